package metrics

import (
	"sync"
	"time"
)

// ProtocolStats 单协议的进程内统计快照
type ProtocolStats struct {
	ProtocolType      string    `json:"protocol_type"`
	MessagesReceived  uint64    `json:"messages_received"`
	ParseErrors       uint64    `json:"parse_errors"`
	DispatchSuccess   uint64    `json:"dispatch_success"`
	DispatchFailure   uint64    `json:"dispatch_failure"`
	DispatchTimeout   uint64    `json:"dispatch_timeout"`
	DispatchCancelled uint64    `json:"dispatch_cancelled"`
	LastMessageAt     time.Time `json:"last_message_at"`
	SinceReset        time.Time `json:"since_reset"`
}

type protocolCounters struct {
	messagesReceived  uint64
	parseErrors       uint64
	dispatchSuccess   uint64
	dispatchFailure   uint64
	dispatchTimeout   uint64
	dispatchCancelled uint64
	lastMessageAt     time.Time
	sinceReset        time.Time
}

var (
	statsMu   sync.RWMutex
	statsByPT = make(map[string]*protocolCounters)
)

func countersFor(protocolType string) *protocolCounters {
	c, ok := statsByPT[protocolType]
	if !ok {
		c = &protocolCounters{sinceReset: time.Now()}
		statsByPT[protocolType] = c
	}
	return c
}

func recordMessage(protocolType string) {
	statsMu.Lock()
	defer statsMu.Unlock()
	c := countersFor(protocolType)
	c.messagesReceived++
	c.lastMessageAt = time.Now()
}

func recordParseError(protocolType string) {
	statsMu.Lock()
	defer statsMu.Unlock()
	countersFor(protocolType).parseErrors++
}

func recordDispatch(protocolType, outcome string) {
	statsMu.Lock()
	defer statsMu.Unlock()
	c := countersFor(protocolType)
	switch outcome {
	case "success":
		c.dispatchSuccess++
	case "timeout":
		c.dispatchTimeout++
	case "cancelled":
		c.dispatchCancelled++
	default:
		c.dispatchFailure++
	}
}

// GetProtocolStats 获取指定协议的统计快照
func GetProtocolStats(protocolType string) ProtocolStats {
	statsMu.RLock()
	defer statsMu.RUnlock()
	c, ok := statsByPT[protocolType]
	if !ok {
		return ProtocolStats{ProtocolType: protocolType, SinceReset: time.Now()}
	}
	return ProtocolStats{
		ProtocolType:      protocolType,
		MessagesReceived:  c.messagesReceived,
		ParseErrors:       c.parseErrors,
		DispatchSuccess:   c.dispatchSuccess,
		DispatchFailure:   c.dispatchFailure,
		DispatchTimeout:   c.dispatchTimeout,
		DispatchCancelled: c.dispatchCancelled,
		LastMessageAt:     c.lastMessageAt,
		SinceReset:        c.sinceReset,
	}
}

// GetAllStats 获取全部协议的统计快照
func GetAllStats() []ProtocolStats {
	statsMu.RLock()
	protocols := make([]string, 0, len(statsByPT))
	for pt := range statsByPT {
		protocols = append(protocols, pt)
	}
	statsMu.RUnlock()

	result := make([]ProtocolStats, 0, len(protocols))
	for _, pt := range protocols {
		result = append(result, GetProtocolStats(pt))
	}
	return result
}

// ResetProtocolStats 清零指定协议的统计（管理操作）
func ResetProtocolStats(protocolType string) {
	statsMu.Lock()
	defer statsMu.Unlock()
	statsByPT[protocolType] = &protocolCounters{sinceReset: time.Now()}
}
