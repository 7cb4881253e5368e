package opt

import "github.com/chewxy/math32"

// StepLR decays the learning rate by Gamma every StepSize epochs.
// A zero StepSize keeps the rate constant.
type StepLR struct {
	StepSize int
	Gamma    float32
}

// LR returns the learning rate to use during the given zero-based epoch.
func (s StepLR) LR(base float32, epoch int) float32 {
	if s.StepSize <= 0 || epoch <= 0 {
		return base
	}
	return base * math32.Pow(s.Gamma, float32(epoch/s.StepSize))
}
