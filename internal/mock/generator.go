package mock

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/campus-news/notify/internal/config"
	"github.com/campus-news/notify/internal/notification"
)

// Publisher is the part of the dev server the generator drives.
type Publisher interface {
	Notify(n notification.Notification) error
	Announce(title, content string)
}

type mockEvent struct {
	kind    notification.Kind
	title   string
	content string // %s is replaced with the actor's name
	article int64
}

var script = []mockEvent{
	{kind: notification.KindLike, title: "New like", content: "%s liked your article", article: 101},
	{kind: notification.KindComment, title: "New comment", content: "%s commented: great coverage of the sports day!", article: 101},
	{kind: notification.KindFollow, title: "New follower", content: "%s started following you"},
	{kind: notification.KindFavorite, title: "Saved", content: "%s saved your article to favorites", article: 204},
	{kind: notification.KindLike, title: "New like", content: "%s liked your article", article: 204},
	{kind: notification.KindComment, title: "New comment", content: "%s replied to your comment", article: 310},
	{kind: notification.KindSystem, title: "Campus notice", content: "The library opens until midnight during exam week."},
}

type Generator struct {
	publisher Publisher
	users     []config.User
	interval  time.Duration
	rng       *rand.Rand
	step      int
	logger    zerolog.Logger
}

func NewGenerator(publisher Publisher, users map[string]config.User, interval time.Duration, logger zerolog.Logger) *Generator {
	list := make([]config.User, 0, len(users))
	for _, u := range users {
		list = append(list, u)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	return &Generator{
		publisher: publisher,
		users:     list,
		interval:  interval,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:    logger.With().Str("component", "mock").Logger(),
	}
}

// Run publishes one scripted event per interval until ctx is cancelled.
func (g *Generator) Run(ctx context.Context) error {
	g.logger.Info().Dur("interval", g.interval).Int("users", len(g.users)).Msg("mock generator started")
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.tick()
		}
	}
}

func (g *Generator) tick() {
	ev := script[g.step%len(script)]
	g.step++

	if ev.kind == notification.KindSystem {
		g.publisher.Announce(ev.title, ev.content)
		return
	}
	if len(g.users) < 2 {
		// Self notifications are suppressed, so a lone user gets nothing.
		return
	}

	to := g.users[g.rng.Intn(len(g.users))]
	from := to
	for from.ID == to.ID {
		from = g.users[g.rng.Intn(len(g.users))]
	}

	err := g.publisher.Notify(notification.Notification{
		UserID:    to.ID,
		From:      notification.Actor{ID: from.ID, Name: from.Name, Avatar: from.Avatar},
		Kind:      ev.kind,
		ArticleID: ev.article,
		Title:     ev.title,
		Content:   fmt.Sprintf(ev.content, from.Name),
	})
	if err != nil {
		g.logger.Warn().Err(err).Str("type", string(ev.kind)).Msg("mock notification rejected")
	}
}
