package anomaly

import (
	"math"
	"math/rand"
)

// Algorithm 离群打分算法接口。返回值与输入行一一对应，分值越高越异常。
type Algorithm interface {
	Score(data [][]float64, context interface{}) []float64
}

type AlgorithmType string

const (
	IsolationForest = AlgorithmType("iforest")
)

func GetAlgorithm(algorithmType AlgorithmType) Algorithm {
	switch algorithmType {
	case IsolationForest:
		return &iForestRunner{}
	default:
		return nil
	}
}

// IForestContext 隔离森林参数
type IForestContext struct {
	NumTrees   int
	SampleSize int
	Seed       int64
}

const (
	DefaultNumTrees   = 100
	DefaultSampleSize = 256
)

type iForestRunner struct{}

func (f *iForestRunner) Score(data [][]float64, context interface{}) []float64 {
	numTrees := DefaultNumTrees
	sampleSize := DefaultSampleSize
	seed := int64(1)

	if context != nil {
		if ctx, ok := context.(*IForestContext); ok {
			if ctx.NumTrees > 0 {
				numTrees = ctx.NumTrees
			}
			if ctx.SampleSize > 0 {
				sampleSize = ctx.SampleSize
			}
			seed = ctx.Seed
		}
	}

	n := len(data)
	if n == 0 {
		return nil
	}
	if sampleSize > n {
		sampleSize = n
	}

	r := rand.New(rand.NewSource(seed))
	maxDepth := int(math.Ceil(math.Log2(float64(sampleSize)))) + 1

	trees := make([]*iNode, numTrees)
	for i := 0; i < numTrees; i++ {
		sample := r.Perm(n)[:sampleSize]
		trees[i] = buildTree(data, sample, 0, maxDepth, r)
	}

	norm := avgPathLength(sampleSize)
	scores := make([]float64, n)
	for i, row := range data {
		sum := 0.0
		for _, tree := range trees {
			sum += pathLength(row, tree, 0)
		}
		mean := sum / float64(numTrees)
		scores[i] = math.Pow(2, -mean/norm)
	}
	return scores
}

type iNode struct {
	left, right *iNode
	splitDim    int
	splitVal    float64
	size        int
}

func buildTree(data [][]float64, idx []int, depth, maxDepth int, r *rand.Rand) *iNode {
	if len(idx) <= 1 || depth >= maxDepth {
		return &iNode{size: len(idx)}
	}

	dims := len(data[idx[0]])
	// 随机挑一个还有值域的维度切分；全部维度都退化时直接成叶
	for attempt := 0; attempt < dims; attempt++ {
		dim := r.Intn(dims)
		lo, hi := data[idx[0]][dim], data[idx[0]][dim]
		for _, i := range idx[1:] {
			v := data[i][dim]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi <= lo {
			continue
		}

		split := lo + r.Float64()*(hi-lo)
		var left, right []int
		for _, i := range idx {
			if data[i][dim] < split {
				left = append(left, i)
			} else {
				right = append(right, i)
			}
		}
		if len(left) == 0 || len(right) == 0 {
			continue
		}
		return &iNode{
			left:     buildTree(data, left, depth+1, maxDepth, r),
			right:    buildTree(data, right, depth+1, maxDepth, r),
			splitDim: dim,
			splitVal: split,
			size:     len(idx),
		}
	}

	return &iNode{size: len(idx)}
}

func pathLength(row []float64, node *iNode, depth int) float64 {
	if node.left == nil {
		return float64(depth) + avgPathLength(node.size)
	}
	if row[node.splitDim] < node.splitVal {
		return pathLength(row, node.left, depth+1)
	}
	return pathLength(row, node.right, depth+1)
}

const eulerMascheroni = 0.5772156649

// avgPathLength 大小为n的子样本中二叉搜索失败的平均路径长度c(n)
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + eulerMascheroni
	return 2*h - 2*float64(n-1)/float64(n)
}
