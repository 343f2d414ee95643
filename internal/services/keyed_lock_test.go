package services

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	var k keyedMutex
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("a")
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Fatalf("expected exclusive access, saw %d holders", maxInside)
	}
	if k.size() != 0 {
		t.Fatalf("expected no retained keys, got %d", k.size())
	}
}

func TestKeyedMutex_DistinctKeysIndependent(t *testing.T) {
	var k keyedMutex
	ua := k.Lock("a")
	done := make(chan struct{})
	go func() {
		ub := k.Lock("b")
		ub()
		close(done)
	}()
	<-done
	if k.size() != 1 {
		t.Fatalf("expected only key a held, got %d", k.size())
	}
	ua()
	if k.size() != 0 {
		t.Fatalf("expected cleanup, got %d", k.size())
	}
}
