package bridge

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextCronDuration parses a 5-field cron expression and returns the duration
// until the next fire time. Returns 0 on parse error.
func nextCronDuration(expr string) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0
	}
	next := sched.Next(time.Now())
	d := time.Until(next)
	if d < 0 {
		return 0
	}
	return d
}

// threadCounter is implemented by stores that can report how many threads
// they currently track.
type threadCounter interface {
	ThreadCount() int
}

// runDigestScheduler posts a usage digest to the configured channel on a
// cron schedule. It returns immediately when the digest is disabled or the
// cron expression does not parse.
func (d *Daemon) runDigestScheduler(ctx context.Context) {
	digestCfg := d.cfg.Digest
	if !digestCfg.Enabled {
		return
	}
	wait := nextCronDuration(digestCfg.Cron)
	if wait == 0 {
		log.Printf("bridge: digest cron %q did not parse; digest disabled", digestCfg.Cron)
		return
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			d.postDigest(ctx)
			wait = nextCronDuration(digestCfg.Cron)
			if wait == 0 {
				return
			}
			timer.Reset(wait)
		}
	}
}

// postDigest builds and sends the digest message. Empty digests (no
// questions since start) are suppressed.
func (d *Daemon) postDigest(ctx context.Context) {
	counters := d.orchestrator.Counters()
	if counters.Questions.Load() == 0 {
		return
	}
	text := buildDigest(counters, d.orchestrator.store)
	_, err := d.adapter.Send(ctx, OutboundMessage{
		ChannelID: d.cfg.Digest.Channel,
		Text:      text,
	})
	if err != nil {
		log.Printf("bridge: send digest: %v", err)
	}
}

// buildDigest renders the usage digest text from the counter tallies.
func buildDigest(c *Counters, st any) string {
	var b strings.Builder
	b.WriteString("*📈 Daily usage digest*\n")
	fmt.Fprintf(&b, "• Questions asked: %d\n", c.Questions.Load())
	fmt.Fprintf(&b, "• Answered: %d\n", c.Successes.Load())
	fmt.Fprintf(&b, "• Failed: %d\n", c.Failures.Load())
	fmt.Fprintf(&b, "• Feedback: %d 👍 / %d 👎\n",
		c.PositiveFeedback.Load(), c.NegativeFeedback.Load())
	if tc, ok := st.(threadCounter); ok {
		fmt.Fprintf(&b, "• Active threads: %d\n", tc.ThreadCount())
	}
	return strings.TrimRight(b.String(), "\n")
}
