package course

import (
	"context"
	"sync"
)

// keyedLock はキーごとの排他区間を提供する。
// 各キーは容量1のチャネルをセマフォとして使い、待機はctxでキャンセルできる。
// 保持者も待機者もいなくなったキーはマップから取り除く。
type keyedLock struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	sem  chan struct{}
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{slots: make(map[string]*lockSlot)}
}

// Lock はkeyの排他区間に入る。戻り値のunlockを必ず1回呼ぶこと。
// ctxが先に終了した場合はctx.Err()を返し、区間には入らない。
func (l *keyedLock) Lock(ctx context.Context, key string) (unlock func(), err error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &lockSlot{sem: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, slot)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.sem
			l.release(key, slot)
		})
	}, nil
}

func (l *keyedLock) release(key string, slot *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}

// size は管理中のキー数を返す。
func (l *keyedLock) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
