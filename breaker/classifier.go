package breaker

// Verdict 错误分类结果
type Verdict int

const (
	// VerdictNotMatched 未命中任何规则，调用按成功处理
	VerdictNotMatched Verdict = iota
	// VerdictFailure 计为失败，进入失败率统计
	VerdictFailure
	// VerdictIgnored 忽略该错误，不进入窗口与统计
	VerdictIgnored
)

// Classifier 错误分类器
// 由嵌入方实现，熔断器只依赖此接口，不感知具体错误类型体系。
// Ignored 判定优先于 Failure 判定。
type Classifier interface {
	Classify(err error) Verdict
}

// ClassifierFunc 函数适配器，允许用普通函数实现 Classifier
type ClassifierFunc func(err error) Verdict

func (f ClassifierFunc) Classify(err error) Verdict {
	return f(err)
}

// DefaultClassifier 返回默认分类器：任何非 nil 错误都计为失败
func DefaultClassifier() Classifier {
	return ClassifierFunc(func(err error) Verdict {
		if err != nil {
			return VerdictFailure
		}
		return VerdictNotMatched
	})
}

// NewClassifier 通过两个谓词构造分类器
//
// 参数:
//   - isFailure: 错误是否计为失败；nil 表示所有错误都是失败
//   - isIgnored: 错误是否被忽略；nil 表示不忽略任何错误
//
// isIgnored 优先于 isFailure：命中忽略规则的错误既不计失败也不进入窗口。
func NewClassifier(isFailure, isIgnored func(err error) bool) Classifier {
	return ClassifierFunc(func(err error) Verdict {
		if err == nil {
			return VerdictNotMatched
		}
		if isIgnored != nil && isIgnored(err) {
			return VerdictIgnored
		}
		if isFailure == nil || isFailure(err) {
			return VerdictFailure
		}
		return VerdictNotMatched
	})
}
