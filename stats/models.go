package stats

// Summary is a point-in-time rollup over the escrow ledger for a reporting
// window. Amounts are minor currency units. It reflects a recent snapshot;
// read-committed consistency is all the dashboards need.
type Summary struct {
	TotalEscrows       int64
	ActiveEscrows      int64
	ShippedEscrows     int64
	DisputedEscrows    int64
	ReleasedEscrows    int64
	RefundedEscrows    int64
	HeldAmount         int64
	TotalAmount        int64
	TotalFeesCollected int64
	AvgHoldingDays     float64
	OpenDisputes       int64
	TotalDisputes      int64
}
