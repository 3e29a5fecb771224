package taskname

const (
	// Campaign tasks
	CampaignRun = "campaign:run"
)
