package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"foodbridge/internal/config"
	"foodbridge/internal/models"
	"foodbridge/internal/notify"
)

// BuildProviders turns NOTIF_PROVIDERS into providers. Providers missing
// their settings fall back to the log provider.
func BuildProviders(cfg config.Config, subs Subscriptions) []Provider {
	var providers []Provider
	for _, kind := range cfg.NotifProviders {
		providers = append(providers, newProvider(strings.TrimSpace(kind), cfg, subs))
	}
	return providers
}

func newProvider(kind string, cfg config.Config, subs Subscriptions) Provider {
	switch kind {
	case "", "stub", "log":
		return logProvider{}
	case "noop":
		return noopProvider{}
	case "fail":
		return failProvider{}
	case "webhook":
		if cfg.NotifWebhookURL == "" {
			return logProvider{}
		}
		return newWebhookProvider(cfg.NotifWebhookURL, cfg.NotifWebhookToken)
	case "webpush":
		if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
			return logProvider{}
		}
		return &webPushProvider{
			publicKey:  cfg.VAPIDPublicKey,
			privateKey: cfg.VAPIDPrivateKey,
			subscriber: cfg.VAPIDSubject,
			subs:       subs,
		}
	case "mqtt":
		if cfg.MQTTBroker == "" {
			return logProvider{}
		}
		return newMQTTProvider(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopicPrefix)
	case "telegram":
		if cfg.TelegramBotToken == "" || cfg.TelegramChatID == 0 {
			return logProvider{}
		}
		return &telegramProvider{token: cfg.TelegramBotToken, chatID: cfg.TelegramChatID}
	default:
		if strings.HasPrefix(kind, "http://") || strings.HasPrefix(kind, "https://") {
			return newWebhookProvider(kind, "")
		}
		return logProvider{}
	}
}

type logProvider struct{}

func (logProvider) Name() string { return "log" }

func (logProvider) Send(ctx context.Context, target Target, intent notify.Intent) error {
	log.Printf("send %s to %s/%s%s identities=%d: %s", intent.Kind, target.Recipient.Role, target.Recipient.ProfileID, target.Recipient.Area, len(target.IdentityIDs), intent.Payload.Body)
	return nil
}

type noopProvider struct{}

func (noopProvider) Name() string { return "noop" }

func (noopProvider) Send(ctx context.Context, target Target, intent notify.Intent) error {
	return nil
}

type failProvider struct{}

func (failProvider) Name() string { return "fail" }

func (failProvider) Send(ctx context.Context, target Target, intent notify.Intent) error {
	return errors.New("provider failure")
}

type webhookProvider struct {
	url    string
	token  string
	client *http.Client
}

func newWebhookProvider(url, token string) webhookProvider {
	return webhookProvider{url: url, token: token, client: &http.Client{Timeout: 5 * time.Second}}
}

func (p webhookProvider) Name() string { return "webhook" }

type webhookMessage struct {
	Kind        string           `json:"kind"`
	ReportID    string           `json:"report_id"`
	Urgent      bool             `json:"urgent"`
	Recipient   notify.Recipient `json:"recipient"`
	IdentityIDs []string         `json:"identity_ids"`
	Payload     notify.Payload   `json:"payload"`
}

func (p webhookProvider) Send(ctx context.Context, target Target, intent notify.Intent) error {
	body, err := json.Marshal(webhookMessage{
		Kind:        intent.Kind,
		ReportID:    intent.ReportID,
		Urgent:      intent.Urgent,
		Recipient:   target.Recipient,
		IdentityIDs: target.IdentityIDs,
		Payload:     intent.Payload,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("provider rejected request: status %d", resp.StatusCode)
	}
	return nil
}

// webPushProvider sends the payload to every browser subscription of the
// target. Subscriptions the push service reports as gone are deleted.
type webPushProvider struct {
	publicKey  string
	privateKey string
	subscriber string
	subs       Subscriptions
}

func (p *webPushProvider) Name() string { return "webpush" }

func (p *webPushProvider) Send(ctx context.Context, target Target, intent notify.Intent) error {
	if len(target.Subscriptions) == 0 {
		return nil
	}
	message, err := json.Marshal(intent.Payload)
	if err != nil {
		return err
	}
	urgency := webpush.UrgencyNormal
	if intent.Urgent {
		urgency = webpush.UrgencyHigh
	}
	var errs []error
	for _, sub := range target.Subscriptions {
		resp, err := webpush.SendNotificationWithContext(ctx, message, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
		}, &webpush.Options{
			Subscriber:      p.subscriber,
			VAPIDPublicKey:  p.publicKey,
			VAPIDPrivateKey: p.privateKey,
			TTL:             3600,
			Urgency:         urgency,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
			p.expire(ctx, sub)
		case resp.StatusCode >= 300:
			errs = append(errs, fmt.Errorf("push service status %d", resp.StatusCode))
		}
	}
	return errors.Join(errs...)
}

func (p *webPushProvider) expire(ctx context.Context, sub models.PushSubscription) {
	if p.subs == nil {
		return
	}
	if err := p.subs.DeleteSubscription(ctx, sub.IdentityID, sub.Endpoint); err != nil {
		log.Printf("webpush expire subscription identity=%s error=%v", sub.IdentityID, err)
		return
	}
	log.Printf("webpush subscription expired identity=%s", sub.IdentityID)
}

// mqttProvider publishes intents for device clients. Profiles get their own
// topic and area fan-outs share one per area.
type mqttProvider struct {
	client mqtt.Client
	prefix string
}

func newMQTTProvider(broker, clientID, prefix string) *mqttProvider {
	if clientID == "" {
		clientID = "foodbridge"
	}
	if prefix == "" {
		prefix = "foodbridge"
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(fmt.Sprintf("%s-%d", clientID, time.Now().UnixNano()))
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("mqtt connection lost: %v", err)
	})
	return &mqttProvider{client: mqtt.NewClient(opts), prefix: prefix}
}

func (p *mqttProvider) Name() string { return "mqtt" }

func (p *mqttProvider) Open(ctx context.Context) error {
	token := p.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return errors.New("mqtt connect timeout")
	}
	return token.Error()
}

func (p *mqttProvider) Close(ctx context.Context) error {
	p.client.Disconnect(250)
	return nil
}

func (p *mqttProvider) Send(ctx context.Context, target Target, intent notify.Intent) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	token := p.client.Publish(Topic(p.prefix, target.Recipient), 1, false, payload)
	wait := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}
	if !token.WaitTimeout(wait) {
		return errors.New("mqtt publish timeout")
	}
	return token.Error()
}

func Topic(prefix string, recipient notify.Recipient) string {
	if recipient.Broadcast() {
		area := strings.ToLower(strings.TrimSpace(recipient.Area))
		if area == "" {
			area = "all"
		}
		return prefix + "/agents/area/" + area
	}
	return prefix + "/" + string(recipient.Role) + "/" + recipient.ProfileID
}

// telegramProvider posts area fan-outs to the dispatch group chat so agents
// without browser push still see new food and expiry warnings.
type telegramProvider struct {
	token  string
	chatID int64
	api    *tgbotapi.BotAPI
}

func (p *telegramProvider) Name() string { return "telegram" }

func (p *telegramProvider) Open(ctx context.Context) error {
	api, err := tgbotapi.NewBotAPI(p.token)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}
	log.Printf("telegram authorized account=%s", api.Self.UserName)
	p.api = api
	return nil
}

func (p *telegramProvider) Send(ctx context.Context, target Target, intent notify.Intent) error {
	if !target.Recipient.Broadcast() {
		return nil
	}
	if p.api == nil {
		return ErrNotInitialized
	}
	msg := tgbotapi.NewMessage(p.chatID, TelegramText(intent))
	_, err := p.api.Send(msg)
	return err
}

func TelegramText(intent notify.Intent) string {
	text := intent.Payload.Title + "\n" + intent.Payload.Body
	if intent.Payload.Data.URL != "" {
		text += "\n" + intent.Payload.Data.URL
	}
	return text
}
