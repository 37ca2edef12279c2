package models

// ParkingRule 适用的停车限制 (语义解析在服务端, 这里只透传)
type ParkingRule struct {
	Code     string `json:"code"`
	Summary  string `json:"summary"`
	Schedule string `json:"schedule,omitempty"`
	Severity string `json:"severity,omitempty"`
}

// RuleCheck 规则服务的查询结果
type RuleCheck struct {
	Rules   []ParkingRule `json:"rules"`
	Address string        `json:"address"`
}
