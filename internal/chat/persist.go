package chat

import (
	"context"

	"github.com/raphaelgruber/livechat/internal/models"
)

// persistLoop writes finalized assistant messages in completion order, off
// the read goroutine. On Close it drains what is queued and exits.
func (c *Controller) persistLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.wake:
			c.drainJobs()
		case <-c.done:
			c.drainJobs()
			return
		}
	}
}

func (c *Controller) wakeWorker() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Controller) drainJobs() {
	for {
		c.mu.Lock()
		if len(c.jobs) == 0 {
			c.mu.Unlock()
			return
		}
		job := c.jobs[0]
		c.jobs = c.jobs[1:]
		c.mu.Unlock()

		c.persist(job)
	}
}

func (c *Controller) persist(job persistJob) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.PersistTimeout)
	defer cancel()

	saved, err := c.store.AppendMessage(ctx, job.conversationID, models.RoleAssistant, job.content)

	c.mu.Lock()
	if err != nil {
		c.logger.Warn("failed to persist response",
			"conversation_id", job.conversationID,
			"message_id", job.messageID,
			"error", err,
		)
		c.noticeLocked(NoticeError, "Failed to save response")
	} else {
		c.logger.Debug("response persisted", "conversation_id", job.conversationID, "message_id", saved.ID)
		c.swapIDLocked(job.conversationID, job.messageID, saved)
	}
	c.mu.Unlock()
	c.flush()
}
