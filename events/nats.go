package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/rustyeddy/bridge/ledger"
)

// NATS publishes JSON events on <account>.orders.opened,
// <account>.orders.closed and <account>.equity.
type NATS struct {
	conn    *nats.Conn
	account string
}

func NewNATS(account string, urls []string, log *zap.Logger) (*NATS, error) {
	options := []nats.Option{nats.Name(account + ":bridge")}

	options = append(options, nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
		log.Warn("nats disconnected", zap.Error(err))
	}))
	options = append(options, nats.ReconnectHandler(func(nc *nats.Conn) {
		log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
	}))
	options = append(options, nats.ClosedHandler(func(nc *nats.Conn) {
		log.Info("nats closed")
	}))

	conn, err := nats.Connect(strings.Join(urls, ","), options...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return &NATS{conn: conn, account: account}, nil
}

func (n *NATS) OrderOpened(o ledger.Order) error {
	return n.publish("orders.opened", o)
}

func (n *NATS) OrderClosed(o ledger.Order) error {
	return n.publish("orders.closed", o)
}

func (n *NATS) EquityUpdated(e ledger.EquitySnapshot) error {
	return n.publish("equity", e)
}

func (n *NATS) publish(topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}
	subject := fmt.Sprintf("%s.%s", n.account, topic)
	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (n *NATS) Close() error {
	n.conn.Close()
	return nil
}
