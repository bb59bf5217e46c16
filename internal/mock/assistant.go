package mock

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/campus-news/notify/internal/chatstream"
)

// ErrAssistantUnavailable is returned for questions that ask for a failure.
var ErrAssistantUnavailable = errors.New("assistant unavailable")

var answers = []struct {
	keywords []string
	answer   string
}{
	{
		keywords: []string{"library"},
		answer: "The **main library** is open *08:00-22:00* on weekdays.\n\n" +
			"During exam week it stays open until midnight.",
	},
	{
		keywords: []string{"news", "campus", "today"},
		answer: "Today's top stories:\n\n" +
			"1. Sports day registration closes on Friday.\n" +
			"2. The computer science department hosts a Go workshop.\n" +
			"3. Cafeteria B reopens after renovation.",
	},
	{
		keywords: []string{"hello", "hi"},
		answer:   "Hello! Ask me about campus news, events or facilities.",
	},
}

// Assistant answers chat questions from a canned script, streaming the answer
// word by word.
type Assistant struct {
	delay time.Duration
}

func NewAssistant(delay time.Duration) *Assistant {
	return &Assistant{delay: delay}
}

// Answer implements server.Answerer. Questions containing "fail" produce
// ErrAssistantUnavailable after a partial answer.
func (a *Assistant) Answer(ctx context.Context, req chatstream.Request, emit func(string) error) error {
	question := strings.ToLower(req.Question)
	answer := pickAnswer(question)

	for _, fragment := range fragments(answer) {
		if err := a.wait(ctx); err != nil {
			return err
		}
		if err := emit(fragment); err != nil {
			return errors.Wrap(err, "emit fragment")
		}
		if strings.Contains(question, "fail") {
			return ErrAssistantUnavailable
		}
	}
	return nil
}

func (a *Assistant) wait(ctx context.Context) error {
	if a.delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(a.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func pickAnswer(question string) string {
	for _, a := range answers {
		for _, kw := range a.keywords {
			if strings.Contains(question, kw) {
				return a.answer
			}
		}
	}
	return "I don't have anything on that yet. You asked: " + question
}

// fragments splits s after each space so concatenating them yields s.
func fragments(s string) []string {
	var out []string
	for len(s) > 0 {
		i := strings.IndexByte(s, ' ')
		if i < 0 {
			out = append(out, s)
			break
		}
		out = append(out, s[:i+1])
		s = s[i+1:]
	}
	return out
}
