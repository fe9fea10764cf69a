// Package mattermost provides a webhook client for parent notifications.
package mattermost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aimd54/homeschool-missions/internal/catalog"
	"github.com/aimd54/homeschool-missions/internal/config"
	prommetrics "github.com/aimd54/homeschool-missions/internal/metrics"
	"github.com/aimd54/homeschool-missions/pkg/logger"
)

const (
	botUsername  = "Mission Control"
	colorMission = "#a855f7"
	colorReward  = "#f472b6"
)

// Client handles Mattermost webhook notifications
type Client struct {
	webhookURL string
	channel    string
	enabled    bool
	httpClient *http.Client
	log        *logger.Logger
	inflight   sync.WaitGroup
}

// NewClient creates a new Mattermost client
func NewClient(cfg *config.MattermostConfig, log *logger.Logger) *Client {
	return &Client{
		webhookURL: cfg.WebhookURL,
		channel:    cfg.Channel,
		enabled:    cfg.Enabled,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log.Component("mattermost"),
	}
}

// Message represents a Mattermost message payload
type Message struct {
	Channel     string       `json:"channel,omitempty"`
	Username    string       `json:"username,omitempty"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment represents a message attachment
type Attachment struct {
	Fallback string  `json:"fallback,omitempty"`
	Color    string  `json:"color,omitempty"`
	Title    string  `json:"title,omitempty"`
	Text     string  `json:"text,omitempty"`
	Fields   []Field `json:"fields,omitempty"`
}

// Field represents a message field
type Field struct {
	Short bool   `json:"short"`
	Title string `json:"title"`
	Value string `json:"value"`
}

// Enabled reports whether messages are actually posted
func (c *Client) Enabled() bool {
	return c.enabled
}

// SendMessage sends a message to Mattermost
func (c *Client) SendMessage(ctx context.Context, msg *Message) error {
	if !c.enabled {
		c.log.Debug().Msg("Mattermost is disabled, skipping message")
		return nil
	}

	if msg.Channel == "" {
		msg.Channel = c.channel
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message to Mattermost: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mattermost returned status %d", resp.StatusCode)
	}

	c.log.Debug().
		Str("channel", msg.Channel).
		Msg("Sent message to Mattermost")

	return nil
}

// MissionSubmitted tells parents a mission is waiting for review
func (c *Client) MissionSubmitted(user catalog.User, mission catalog.Mission) {
	c.post(&Message{
		Username: botUsername,
		Text:     fmt.Sprintf("🚀 **%s** finished a mission and sent it for review.", user.DisplayName),
		Attachments: []Attachment{{
			Fallback: fmt.Sprintf("%s submitted %s", user.DisplayName, mission.Title),
			Color:    colorMission,
			Title:    mission.Title,
			Text:     mission.Description,
			Fields: []Field{
				{Short: true, Title: "XP", Value: fmt.Sprintf("+%d", mission.XP)},
				{Short: true, Title: "Badge", Value: mission.Badge},
			},
		}},
	})
}

// RewardClaimed tells parents a reward was bought
func (c *Client) RewardClaimed(user catalog.User, reward catalog.Reward, remaining int) {
	c.post(&Message{
		Username: botUsername,
		Text:     fmt.Sprintf("🎁 **%s** claimed a reward.", user.DisplayName),
		Attachments: []Attachment{{
			Fallback: fmt.Sprintf("%s claimed %s", user.DisplayName, reward.Title),
			Color:    colorReward,
			Title:    reward.Title,
			Fields: []Field{
				{Short: true, Title: "Cost", Value: fmt.Sprintf("%d pts", reward.Cost)},
				{Short: true, Title: "Remaining", Value: fmt.Sprintf("%d pts", remaining)},
			},
		}},
	})
}

// post sends msg in the background. Failures are logged and counted only
func (c *Client) post(msg *Message) {
	if !c.enabled {
		prommetrics.RecordNotification("skipped")
		return
	}

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := c.SendMessage(ctx, msg); err != nil {
			prommetrics.RecordNotification("error")
			c.log.Warn().Err(err).Msg("Failed to send Mattermost notification")
			return
		}
		prommetrics.RecordNotification("sent")
	}()
}

// Wait blocks until background notifications finish
func (c *Client) Wait() {
	c.inflight.Wait()
}
