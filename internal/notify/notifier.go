package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/curbsense/curbsense/internal/models"
	"github.com/curbsense/curbsense/internal/rules"
	"github.com/curbsense/curbsense/pkg/ws"
)

const rulesCheckTimeout = 15 * time.Second

// Notifier 把检测引擎的领域事件翻译成用户可见的通知:
// 停车确认时查询停车规则, 并通过 WebSocket 推送给前端。
// 规则服务不可用属于软失败, 通知照常发出, 只是不带规则。
type Notifier struct {
	rules  *rules.Client
	hub    *ws.Hub
	logger *zap.Logger
}

func NewNotifier(rulesClient *rules.Client, hub *ws.Hub, logger *zap.Logger) *Notifier {
	return &Notifier{
		rules:  rulesClient,
		hub:    hub,
		logger: logger,
	}
}

// parkingNotice 停车确认推送
type parkingNotice struct {
	SessionID       int64                `json:"session_id"`
	DeviceID        string               `json:"device_id"`
	At              time.Time            `json:"at"`
	Trigger         string               `json:"trigger"`
	Location        *models.Location     `json:"location,omitempty"`
	LocationPending bool                 `json:"location_pending"`
	Rules           []models.ParkingRule `json:"rules,omitempty"`
	Address         string               `json:"address,omitempty"`
	RulesUnknown    bool                 `json:"rules_unknown"`
}

// locationNotice 定位修正推送
type locationNotice struct {
	SessionID    int64                `json:"session_id"`
	DeviceID     string               `json:"device_id"`
	Phase        string               `json:"phase"`
	Location     *models.Location     `json:"location"`
	DriftM       float64              `json:"drift_m"`
	Rules        []models.ParkingRule `json:"rules,omitempty"`
	Address      string               `json:"address,omitempty"`
	RulesUnknown bool                 `json:"rules_unknown"`
}

// PublishParking 停车确认
// 确认时位置可能还没定下来, 这里只带上当前已知的位置, 规则检查由定位阶段驱动。
func (n *Notifier) PublishParking(ev models.ParkingConfirmed) {
	notice := parkingNotice{
		SessionID:       ev.SessionID,
		DeviceID:        ev.DeviceID,
		At:              ev.At,
		Trigger:         string(ev.Trigger),
		Location:        ev.Location,
		LocationPending: ev.Location == nil,
		RulesUnknown:    true,
	}
	n.hub.BroadcastMessage(ws.MsgTypeParkingConfirmed, notice)
}

// PublishDeparture 离开确认
func (n *Notifier) PublishDeparture(ev models.DepartureConfirmed) {
	n.hub.BroadcastMessage(ws.MsgTypeDeparture, ev)
}

// PublishLocation 定位阶段完成, 需要时做规则检查后推送修正
// 规则查询走网络且带重试, 放到独立 goroutine, 不占用引擎的事件处理路径。
func (n *Notifier) PublishLocation(ev models.LocationResolved) {
	go func() {
		notice := locationNotice{
			SessionID: ev.SessionID,
			DeviceID:  ev.DeviceID,
			Phase:     ev.Phase,
			Location:  ev.Location,
			DriftM:    ev.DriftM,
		}

		if ev.RecheckRules && ev.Location != nil {
			check := n.checkRules(ev.Location)
			if check != nil {
				notice.Rules = check.Rules
				notice.Address = check.Address
			} else {
				notice.RulesUnknown = true
			}
		}

		n.hub.BroadcastMessage(ws.MsgTypeLocationCorrected, notice)
	}()
}

// PublishState 状态迁移
func (n *Notifier) PublishState(deviceID, from, to string) {
	n.hub.BroadcastMessage(ws.MsgTypeStateUpdate, map[string]string{
		"device_id": deviceID,
		"from":      from,
		"to":        to,
	})
}

// checkRules 软失败的规则查询: 出错只降级, 不阻断通知
func (n *Notifier) checkRules(loc *models.Location) *models.RuleCheck {
	if n.rules == nil || !n.rules.IsConfigured() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), rulesCheckTimeout)
	defer cancel()

	check, err := n.rules.Check(ctx, loc.Latitude, loc.Longitude)
	if err != nil {
		n.logger.Warn("Parking rules unavailable, notifying without rules", zap.Error(err))
		return nil
	}
	return check
}
