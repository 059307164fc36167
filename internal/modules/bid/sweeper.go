package bid

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Closer settles auctions that have run out of time.
type Closer interface {
	CloseDue(ctx context.Context) (int, error)
}

// StartSweeper closes due auctions every interval until ctx is done.
// Runs never overlap; a slow sweep delays the next one.
func StartSweeper(ctx context.Context, closer Closer, every time.Duration, log logrus.FieldLogger) (*cron.Cron, error) {
	if every < time.Second {
		return nil, fmt.Errorf("auction sweep interval must be at least 1s, got %s", every)
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(fmt.Sprintf("@every %s", every), func() {
		n, err := closer.CloseDue(ctx)
		if err != nil {
			log.WithError(err).Error("close due auctions")
			return
		}
		if n > 0 {
			log.WithField("closed", n).Info("auctions closed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule auction sweeper: %w", err)
	}
	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return c, nil
}
