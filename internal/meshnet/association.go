package meshnet

// Association is an unordered pair of CIDRs expressing "peers in either
// side may see peers in the other."
type Association struct {
	ID      int64
	CIDRID1 int64
	CIDRID2 int64
}
