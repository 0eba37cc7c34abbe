package riskmodel

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Parameter layout: x[0] = log(theta-1), x[1] = lambda, x[2] = intercept,
// x[3:] = covariate dummies.
const (
	paramPsi = iota
	paramLambda
	paramIntercept
	numFixed
)

// crash is one observation of the likelihood.
type crash struct {
	drivers int   // 1 or 2
	exposed int   // drivers in the exposed group
	cols    []int // active dummy columns, offsets into x[numFixed:]
	cell    int   // covariate cell index
}

// problem holds the design and evaluates the mean negative log-likelihood.
type problem struct {
	crashes []crash
	dim     int
}

func theta(x []float64) float64 { return 1 + math.Exp(x[paramPsi]) }

func (p *problem) eta(x []float64, c *crash) float64 {
	eta := x[paramIntercept]
	for _, j := range c.cols {
		eta += x[numFixed+j]
	}
	return eta
}

// logLik returns the total log-likelihood and, when grad is not nil, adds
// its gradient with respect to x into grad.
func (p *problem) logLik(x, grad []float64) float64 {
	th := theta(x)
	logTh := math.Log(th)
	log1pTh := math.Log1p(th)
	lambda := x[paramLambda]

	var ll float64
	for i := range p.crashes {
		c := &p.crashes[i]
		eta := p.eta(x, c)

		var dEta, dTheta, dLambda float64
		if c.drivers == 1 {
			z := eta + lambda*logTh
			y := float64(c.exposed)
			ll += y*z - softplus(z)
			g := y - sigmoid(z)
			dEta = g
			dTheta = g * lambda / th
			dLambda = g * logTh
		} else {
			l1 := eta + log1pTh
			l2 := 2*eta + logTh
			norm := floats.LogSumExp([]float64{0, l1, l2})
			switch c.exposed {
			case 1:
				ll += l1
			case 2:
				ll += l2
			}
			ll -= norm
			p1 := math.Exp(l1 - norm)
			p2 := math.Exp(l2 - norm)
			dEta = float64(c.exposed) - (p1 + 2*p2)
			dTheta = -p1/(1+th) - p2/th
			switch c.exposed {
			case 1:
				dTheta += 1 / (1 + th)
			case 2:
				dTheta += 1 / th
			}
		}

		if grad != nil {
			grad[paramPsi] += dTheta * (th - 1)
			grad[paramLambda] += dLambda
			grad[paramIntercept] += dEta
			for _, j := range c.cols {
				grad[numFixed+j] += dEta
			}
		}
	}
	return ll
}

// objective is the mean negative log-likelihood minimised by BFGS.
func (p *problem) objective(x []float64) float64 {
	return -p.logLik(x, nil) / float64(len(p.crashes))
}

func (p *problem) gradient(grad, x []float64) {
	for i := range grad {
		grad[i] = 0
	}
	p.logLik(x, grad)
	floats.Scale(-1/float64(len(p.crashes)), grad)
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func softplus(z float64) float64 {
	return math.Max(z, 0) + math.Log1p(math.Exp(-math.Abs(z)))
}
