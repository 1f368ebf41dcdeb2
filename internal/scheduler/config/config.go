package config

type Config struct {
	LowStockSchedule string
	ReportSchedule   string
	Timezone         string
}
