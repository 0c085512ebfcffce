package stage

import (
	"context"
	"time"
)

// watch reports queue depth and flags outputs that stayed full for longer
// than the stall timeout. It never acts on the stage.
func (s *Stage[In, Out]) watch(ctx context.Context) {
	t := time.NewTicker(s.stallInterval)
	defer t.Stop()
	lastFree := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			in, out := s.Buffered()
			s.obs.QueueDepth(s.name, in, out)
			if s.out.free() > 0 || s.out.isClosed() {
				lastFree = now
				continue
			}
			if now.Sub(lastFree) > s.stallTimeout {
				s.log.Warn("stage output clogged, is the output being read?", "full_for", now.Sub(lastFree).Round(time.Second))
				s.obs.Stalled(s.name)
				// already reported, wait before reporting again
				lastFree = now.Add(s.stallRepeat)
			}
		}
	}
}
