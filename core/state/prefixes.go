package state

var (
	bountySeqKey   = []byte("bounty/seq")
	bountyStatsKey = []byte("bounty/stats")

	bountyRecordPrefix  = "bounty/record/"
	bountyCreatorPrefix = "bounty/index/creator/"
	bountyHunterPrefix  = "bounty/index/hunter/"
	bountyTokenPrefix   = "bounty/index/token/"

	accountPrefix        = "account/"
	tokenBalancePrefix   = "token/balance/"
	tokenAllowancePrefix = "token/allowance/"

	genesisAppliedKey = []byte("genesis/applied")
)
