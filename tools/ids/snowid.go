package ids

import (
	"strconv"
	"sync"
	"time"
)

// 41 bit 毫秒时间戳 | 10 bit 节点 | 12 bit 序列
const (
	nodeBits = 10
	seqBits  = 12
	maxNode  = 1<<nodeBits - 1
	seqMask  = 1<<seqBits - 1
)

var epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Generator 雪花 ID 生成器。时钟回拨时沿用上一毫秒继续递增序列，不阻塞等待。
type Generator struct {
	mu     sync.Mutex
	now    func() time.Time
	nodeID int64
	seq    int64
	lastMS int64
}

func NewGenerator(nodeID int64, now func() time.Time) *Generator {
	if nodeID < 0 || nodeID > maxNode {
		nodeID = 1
	}
	if now == nil {
		now = time.Now
	}
	return &Generator{now: now, nodeID: nodeID}
}

func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().Sub(epoch).Milliseconds()
	if ms < g.lastMS {
		ms = g.lastMS
	}
	if ms == g.lastMS {
		g.seq = (g.seq + 1) & seqMask
		if g.seq == 0 {
			// 序列溢出，借用下一毫秒
			ms++
		}
	} else {
		g.seq = 0
	}
	g.lastMS = ms
	return (ms&(1<<41-1))<<(nodeBits+seqBits) | g.nodeID<<seqBits | g.seq
}

func (g *Generator) NextString() string { return strconv.FormatInt(g.Next(), 10) }

var (
	defaultGen *Generator
	once       sync.Once
)

func initDefault() {
	once.Do(func() { defaultGen = NewGenerator(1, nil) })
}

// Generate 使用进程默认生成器
func Generate() int64 {
	initDefault()
	return defaultGen.Next()
}

func GenerateString() string {
	return strconv.FormatInt(Generate(), 10)
}

// SetNodeID 设置默认生成器的 nodeID（0~1023），在 main() 初始化时调用
func SetNodeID(nodeID int64) {
	initDefault()
	if nodeID < 0 || nodeID > maxNode {
		nodeID = 1
	}
	defaultGen.mu.Lock()
	defaultGen.nodeID = nodeID
	defaultGen.mu.Unlock()
}

// Time 从 ID 还原生成时间（毫秒精度）
func Time(id int64) time.Time {
	return epoch.Add(time.Duration(id>>(nodeBits+seqBits)) * time.Millisecond)
}
