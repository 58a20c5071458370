package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"mdrelay/internal/domain/market"
	"mdrelay/internal/domain/model"
)

const (
	TopicMarket = "market"
	TopicWhale  = "whale-alerts"
)

var ErrBadPayload = errors.New("ws: client payload is not a subscription")

// Subscription is a decoded client request: MarketSubscribe or WhaleSubscribe.
type Subscription interface {
	subscription()
}

type MarketSubscribe struct{}

type WhaleSubscribe struct{}

func (MarketSubscribe) subscription() {}
func (WhaleSubscribe) subscription()  {}

type clientMessage struct {
	Topic string `json:"topic"`
}

// ParseSubscription decodes {"topic": ...}. Unknown or missing topics yield (nil, nil).
func ParseSubscription(payload []byte) (Subscription, error) {
	var msg clientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	switch msg.Topic {
	case TopicMarket:
		return MarketSubscribe{}, nil
	case TopicWhale:
		return WhaleSubscribe{}, nil
	}
	return nil, nil
}

type marketPush struct {
	Topic string `json:"topic"`
	market.Snapshot
}

type whalePush struct {
	Topic  string             `json:"topic"`
	Alerts []model.WhaleAlert `json:"alerts"`
}

func encodeMarket(s market.Snapshot) ([]byte, error) {
	return json.Marshal(marketPush{Topic: TopicMarket, Snapshot: s})
}

func encodeWhale(a model.WhaleAlert) ([]byte, error) {
	return json.Marshal(whalePush{Topic: TopicWhale, Alerts: []model.WhaleAlert{a}})
}
