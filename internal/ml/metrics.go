package ml

import (
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// DecisionThreshold is the probability above which a record is labelled 1.
const DecisionThreshold = 0.5

// Metrics is the evaluation snapshot stored with a bundle.
type Metrics struct {
	Accuracy     float64 `json:"accuracy"`
	Precision    float64 `json:"precision"`
	Recall       float64 `json:"recall"`
	F1Score      float64 `json:"f1_score"`
	ROCAUC       float64 `json:"roc_auc"`
	CVROCAUCMean float64 `json:"cv_roc_auc_mean"`
	CVROCAUCStd  float64 `json:"cv_roc_auc_std"`
	TrainSize    int     `json:"train_size"`
	TestSize     int     `json:"test_size"`
}

// Predict turns a class-1 probability into a label.
func Predict(p float64) int {
	if p > DecisionThreshold {
		return 1
	}
	return 0
}

// Evaluate fills the held-out metrics for labels y and class-1 scores.
// Ratios with an empty denominator are 0.
func Evaluate(y []int, scores []float64) Metrics {
	var tp, fp, fn, correct float64
	for i, label := range y {
		pred := Predict(scores[i])
		if pred == label {
			correct++
		}
		switch {
		case pred == 1 && label == 1:
			tp++
		case pred == 1 && label == 0:
			fp++
		case pred == 0 && label == 1:
			fn++
		}
	}

	m := Metrics{
		Precision: ratio(tp, tp+fp),
		Recall:    ratio(tp, tp+fn),
		ROCAUC:    ROCAUC(y, scores),
		TestSize:  len(y),
	}
	m.Accuracy = ratio(correct, float64(len(y)))
	m.F1Score = ratio(2*m.Precision*m.Recall, m.Precision+m.Recall)
	return m
}

// ROCAUC is the area under the ROC curve. With a single class present the
// curve is undefined and 0.5 is returned.
func ROCAUC(y []int, scores []float64) float64 {
	var positives int
	for _, label := range y {
		positives += label
	}
	if positives == 0 || positives == len(y) {
		return 0.5
	}

	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	classes := make([]bool, len(y))
	for i, label := range y {
		classes[i] = label == 1
	}
	stat.SortWeightedLabeled(sorted, classes, nil)

	tpr, fpr, _ := stat.ROC(nil, sorted, classes, nil)
	return integrate.Trapezoidal(fpr, tpr)
}

// MeanStd summarizes fold scores with the population standard deviation.
func MeanStd(scores []float64) (float64, float64) {
	if len(scores) == 0 {
		return 0, 0
	}
	return stat.PopMeanStdDev(scores, nil)
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
