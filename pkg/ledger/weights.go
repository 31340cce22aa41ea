package ledger

// Weight declares the worst-case cost of an operation so the surrounding
// metering subsystem can charge a bounded fee before execution. RefTime is
// abstract compute cost; Reads and Writes count storage touches.
type Weight struct {
	RefTime uint64
	Reads   uint64
	Writes  uint64
}

// Add returns the sum of two weights.
func (w Weight) Add(o Weight) Weight {
	return Weight{
		RefTime: w.RefTime + o.RefTime,
		Reads:   w.Reads + o.Reads,
		Writes:  w.Writes + o.Writes,
	}
}

// SendMessageWeight covers one record insert plus two index updates.
func SendMessageWeight() Weight {
	return Weight{RefTime: 10_000, Reads: 1, Writes: 3}
}

// ReadMessageWeight covers one record lookup and one flag update.
func ReadMessageWeight() Weight {
	return Weight{RefTime: 5_000, Reads: 1, Writes: 1}
}

// DeleteMessageWeight covers one record removal plus two index updates.
func DeleteMessageWeight() Weight {
	return Weight{RefTime: 5_000, Reads: 1, Writes: 3}
}

// CreateGroupWeight scales with the deduplicated member count: one group
// record plus one membership-index update per member.
func CreateGroupWeight(members int) Weight {
	return Weight{RefTime: 15_000, Reads: uint64(members), Writes: uint64(members) + 1}
}

// AddMemberWeight covers the group record and one membership-index update.
func AddMemberWeight() Weight {
	return Weight{RefTime: 10_000, Reads: 1, Writes: 2}
}

// RemoveMemberWeight covers the group record and one membership-index
// update.
func RemoveMemberWeight() Weight {
	return Weight{RefTime: 10_000, Reads: 1, Writes: 2}
}

// SendGroupMessageWeight covers the membership check, the record insert and
// two index updates.
func SendGroupMessageWeight() Weight {
	return Weight{RefTime: 15_000, Reads: 2, Writes: 3}
}

// DeleteGroupMessageWeight covers the record and group lookups plus index
// updates.
func DeleteGroupMessageWeight() Weight {
	return Weight{RefTime: 5_000, Reads: 2, Writes: 3}
}

// SweepWeight scales with the number of records reclaimed; each removal is
// one record delete plus two index updates.
func SweepWeight(swept int) Weight {
	return Weight{RefTime: 2_000 + 3_000*uint64(swept), Reads: uint64(swept), Writes: 3 * uint64(swept)}
}
