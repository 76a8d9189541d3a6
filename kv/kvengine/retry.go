package kvengine

import (
	"context"
	"time"

	"github.com/ngaut/log"
	"github.com/pingcap-incubator/dictkv/kv/transaction/occ"
	"github.com/pingcap/errors"
)

// RunInTxn runs fn in a write unit and commits it. When fn or the commit fails with a write conflict the unit is
// aborted and fn runs again on a fresh snapshot, after a backoff that doubles on every attempt. Other errors abort the
// unit and are returned as is. It gives up after conf.MaxRetries retries or when ctx is done.
func (e *KVEngine) RunInTxn(ctx context.Context, fn func(wu *WriteUnit) error) error {
	backoff := e.conf.RetryBackoff.Duration
	wu := e.NewWriteUnit()
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			wu.Abort()
			return errors.Trace(err)
		}
		err := fn(wu)
		if err == nil {
			err = wu.Commit()
			if err == nil {
				return nil
			}
		} else {
			wu.Abort()
		}
		if !occ.IsWriteConflict(err) {
			return err
		}
		if attempt >= e.conf.MaxRetries {
			txnGiveUpCounter.Inc()
			log.Warnf("txn %d gives up after %d retries: %v", wu.Txn().ID(), attempt, err)
			return err
		}
		txnRetryCounter.Inc()
		log.Debugf("txn %d retries in %v: %v", wu.Txn().ID(), backoff, err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Trace(ctx.Err())
		case <-timer.C:
		}
		if backoff *= 2; backoff > e.conf.MaxRetryBackoff.Duration {
			backoff = e.conf.MaxRetryBackoff.Duration
		}
		wu.reset()
	}
}
