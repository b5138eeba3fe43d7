package engine

import "github.com/miradorstack/mirador-healing/internal/models"

// HealthScore applies a linear penalty model to the current health picture
// and clamps the result to [0, 100].
func HealthScore(sample models.HealthSample, deps []models.DependencyStatus, endpoints []models.EndpointCheckResult) float64 {
	score := 100.0

	if cpu, ok := sample.Value(models.MetricCPUUsage); ok {
		switch {
		case cpu > 80:
			score -= 20
		case cpu > 60:
			score -= 10
		}
	}
	if memory, ok := sample.Value(models.MetricMemoryUsage); ok {
		switch {
		case memory > 85:
			score -= 20
		case memory > 70:
			score -= 10
		}
	}

	for _, dep := range deps {
		switch dep.Status {
		case models.DependencyDown:
			score -= 25
		case models.DependencyDegraded:
			score -= 10
		}
	}

	for _, ep := range endpoints {
		switch ep.Status {
		case models.EndpointError:
			score -= 15
		case models.EndpointSlow:
			score -= 5
		}
	}

	if rate, ok := sample.Value(models.MetricErrorRate); ok {
		switch {
		case rate > 5:
			score -= 30
		case rate > 1:
			score -= 15
		}
	}

	return clamp(score, 0, 100)
}

// Band maps a score onto its qualitative band.
func Band(score float64) string {
	switch {
	case score > 90:
		return models.BandExcellent
	case score > 70:
		return models.BandGood
	case score > 50:
		return models.BandDegraded
	default:
		return models.BandCritical
	}
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
