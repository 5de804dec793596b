package safety

import "time"

// MaxCutoffCapacity 滚动窗的最大容量
const MaxCutoffCapacity = 16

// faultRing 定长环形缓冲，记录最近的切断时间；控制循环内无动态分配
type faultRing struct {
	buf   [MaxCutoffCapacity]time.Time
	limit int // 窗口内允许的切断次数 N
	head  int // 最旧元素位置
	count int
}

func newFaultRing(limit int) faultRing {
	if limit < 1 {
		limit = 1
	}
	if limit > MaxCutoffCapacity {
		limit = MaxCutoffCapacity
	}
	return faultRing{limit: limit}
}

// exceeds 在 now 再记一次切断是否超过窗口内 N 次
func (r *faultRing) exceeds(now time.Time, window time.Duration) bool {
	if r.count < r.limit {
		return false
	}
	return now.Sub(r.buf[r.head]) <= window
}

// push 记录一次切断，满时覆盖最旧值
func (r *faultRing) push(t time.Time) {
	if r.count < r.limit {
		r.buf[(r.head+r.count)%r.limit] = t
		r.count++
		return
	}
	r.buf[r.head] = t
	r.head = (r.head + 1) % r.limit
}

// within 窗口内的切断次数
func (r *faultRing) within(now time.Time, window time.Duration) int {
	n := 0
	for i := 0; i < r.count; i++ {
		if now.Sub(r.buf[(r.head+i)%r.limit]) <= window {
			n++
		}
	}
	return n
}
