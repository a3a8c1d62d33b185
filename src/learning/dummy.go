package learning

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/mosaicnetworks/acol/src/peers"
	"github.com/sirupsen/logrus"
)

// ErrModelSize is returned when a received model does not have as many
// weights as the local one.
var ErrModelSize = errors.New("learning: model size mismatch")

// DummyLearner stands in for a real training algorithm. Each step perturbs
// the weights of its model and takes StepDuration. Received models are
// averaged into the local one.
type DummyLearner struct {
	sync.Mutex

	id           peers.JID
	model        Model
	stepDuration time.Duration
	rnd          *rand.Rand
	logger       *logrus.Entry
}

// NewDummyLearner creates a DummyLearner with a model of size weights.
func NewDummyLearner(id peers.JID, size int, stepDuration time.Duration, logger *logrus.Entry) *DummyLearner {
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

	weights := make([]float64, size)
	for i := range weights {
		weights[i] = rnd.Float64()
	}

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &DummyLearner{
		id: id,
		model: Model{
			Owner:   string(id),
			Weights: weights,
		},
		stepDuration: stepDuration,
		rnd:          rnd,
		logger:       logger.WithField("component", "learner"),
	}
}

// TrainStep implements the Learner interface.
func (l *DummyLearner) TrainStep(ctx context.Context) ([]byte, error) {
	if l.stepDuration > 0 {
		timer := time.NewTimer(l.stepDuration)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	l.Lock()
	defer l.Unlock()

	for i := range l.model.Weights {
		l.model.Weights[i] += (l.rnd.Float64() - 0.5) / 100
	}
	l.model.Round++

	l.logger.WithField("round", l.model.Round).Debug("Trained")

	return l.model.Marshal()
}

// Receive implements the Receiver interface.
func (l *DummyLearner) Receive(from peers.JID, payload []byte) error {
	var other Model
	if err := other.Unmarshal(payload); err != nil {
		return fmt.Errorf("decoding model from %s: %w", from, err)
	}

	l.Lock()
	defer l.Unlock()

	if len(other.Weights) != len(l.model.Weights) {
		return fmt.Errorf("%w: %d != %d", ErrModelSize, len(other.Weights), len(l.model.Weights))
	}

	for i := range l.model.Weights {
		l.model.Weights[i] = (l.model.Weights[i] + other.Weights[i]) / 2
	}
	l.model.Merged++

	l.logger.WithFields(logrus.Fields{
		"from":  from,
		"round": other.Round,
	}).Debug("Merged model")

	return nil
}

// Model returns a copy of the current model.
func (l *DummyLearner) Model() Model {
	l.Lock()
	defer l.Unlock()

	res := l.model
	res.Weights = append([]float64(nil), l.model.Weights...)
	return res
}
