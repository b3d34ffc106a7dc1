package train

import "math"

// Schedule returns the learning rate for an optimizer step (1-based) out of total.
type Schedule func(c Config, step, total int) float64

var schedules = map[string]Schedule{
	"constant": constantLR,
	"cosine":   cosineLR,
}

func constantLR(c Config, _, _ int) float64 {
	return c.LearningRate
}

// cosineLR warms up linearly, then anneals:
// lr = min_lr + 0.5 * (max_lr - min_lr) * (1 + cos(pi * progress))
func cosineLR(c Config, step, total int) float64 {
	if step < c.WarmupSteps {
		return c.LearningRate * float64(step) / float64(c.WarmupSteps)
	}
	span := total - c.WarmupSteps
	if span <= 0 {
		return c.LearningRate
	}
	progress := math.Min(1, float64(step-c.WarmupSteps)/float64(span))
	return c.MinLearningRate + 0.5*(c.LearningRate-c.MinLearningRate)*(1+math.Cos(math.Pi*progress))
}
