// Package opt provides the parameter update rule used at the end of a batch.
package opt

// SGD is stochastic gradient descent with classical momentum and L2 weight decay.
type SGD struct {
	LearningRate float32
	Momentum     float32
	WeightDecay  float32
}

// Update applies one momentum step in place:
//
//	v = momentum*v + lr*(g + decay*w)
//	w -= v
//
// Weight decay is only added when decay is true; biases are updated without it.
func (s SGD) Update(params, gradients, velocity []float32, decay bool) {
	wd := s.WeightDecay
	if !decay {
		wd = 0
	}

	for i := range params {
		g := gradients[i] + wd*params[i]
		v := s.Momentum*velocity[i] + s.LearningRate*g
		velocity[i] = v
		params[i] -= v
	}
}
