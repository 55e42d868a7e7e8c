package waf

import "time"

// WAFLog is one raw rule-match record. It is created once per match during
// inspection, immutable afterwards, and persisted append-only.
type WAFLog struct {
	RuleID          int       `bson:"ruleId" json:"ruleId"`
	RequestID       string    `bson:"requestId,omitempty" json:"requestId,omitempty"`
	Severity        int       `bson:"severity" json:"severity"` // 0-5
	Phase           int       `bson:"phase" json:"phase"`
	SecMark         string    `bson:"secMark,omitempty" json:"secMark,omitempty"`
	Accuracy        int       `bson:"accuracy" json:"accuracy"` // 0-10
	Payload         string    `bson:"payload" json:"payload"`
	URI             string    `bson:"uri" json:"uri"`
	ClientIPAddress string    `bson:"clientIpAddress" json:"clientIpAddress"`
	ClientPort      int       `bson:"srcPort,omitempty" json:"srcPort,omitempty"`
	ServerIPAddress string    `bson:"serverIpAddress" json:"serverIpAddress"`
	ServerPort      int       `bson:"dstPort,omitempty" json:"dstPort,omitempty"`
	Domain          string    `bson:"domain" json:"domain"`
	Logs            []Log     `bson:"logs" json:"logs"`
	Message         string    `bson:"message" json:"message"`
	Request         string    `bson:"request" json:"request"`
	Response        string    `bson:"response" json:"response"`
	CreatedAt       time.Time `bson:"createdAt" json:"createdAt"`
}

// Log is one sub-entry of a WAFLog, one per condition that contributed to
// the match.
type Log struct {
	Message  string `bson:"message" json:"message"`
	Payload  string `bson:"payload" json:"payload"`
	RuleID   int    `bson:"ruleId" json:"ruleId"`
	Severity int    `bson:"severity" json:"severity"`
	Phase    int    `bson:"phase" json:"phase"`
	SecMark  string `bson:"secMark,omitempty" json:"secMark,omitempty"`
	Accuracy int    `bson:"accuracy" json:"accuracy"`
	LogRaw   string `bson:"logRaw,omitempty" json:"logRaw,omitempty"`
}
