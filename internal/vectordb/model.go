package vectordb

import (
	"errors"
)

// 常用错误定义
var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrEmptyQuery         = errors.New("query text is empty")
	ErrEmptyCollectionID  = errors.New("collection id is empty")
	ErrEmptyVector        = errors.New("empty vector")
	ErrInvalidDimension   = errors.New("vector dimension mismatch")
)

// Entry 待写入索引的文本
type Entry struct {
	Text     string            // 分块文本
	Metadata map[string]string // 附加元数据，例如来源文件
}

// Record 索引中的一条记录
// ID为集合内从0开始的连续序号
type Record struct {
	ID       int
	Text     string
	Metadata map[string]string
	Vector   []float32
}

// Hit 查询命中结果
type Hit struct {
	ID       int               // 记录序号
	Text     string            // 记录文本
	Score    float32           // 相似度得分，越大越相关
	Metadata map[string]string // 记录元数据
}

// DistanceType 向量距离计算方法
type DistanceType string

const (
	// Cosine 余弦相似度
	Cosine DistanceType = "cosine"
	// DotProduct 点积
	DotProduct DistanceType = "dot"
	// Euclidean 欧几里得距离
	Euclidean DistanceType = "l2"
)

// Config 索引配置
type Config struct {
	Distance   DistanceType // 距离计算方法
	BatchSize  int          // 嵌入批大小
	MaxWorkers int          // 并行嵌入的工作线程数
}

// DefaultConfig 返回默认索引配置
func DefaultConfig() Config {
	return Config{
		Distance:   Cosine,
		BatchSize:  16,
		MaxWorkers: 4,
	}
}

// Texts 返回命中结果的文本列表，保持原有顺序
func Texts(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Text
	}
	return out
}
