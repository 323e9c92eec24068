package order

import (
	"context"

	"viabill-be/internal/logger"

	"go.uber.org/zap"
)

type Service interface {
	GetOrder(ctx context.Context, id uint) (*Order, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*Order, error)
	// Transition applies the workflow transition leading to state. It
	// reports false, without writing, when the workflow has none.
	Transition(ctx context.Context, o *Order, to State) (bool, error)
	SetTransactionID(ctx context.Context, o *Order, transactionID string) error
}

type service struct {
	repo     Repository
	workflow *Workflow
}

func NewService(repo Repository, workflow *Workflow) Service {
	if workflow == nil {
		workflow = DefaultWorkflow()
	}
	return &service{repo: repo, workflow: workflow}
}

func (s *service) GetOrder(ctx context.Context, id uint) (*Order, error) {
	return s.repo.GetOrder(ctx, id)
}

func (s *service) FindByTransactionID(ctx context.Context, transactionID string) (*Order, error) {
	return s.repo.FindByTransactionID(ctx, transactionID)
}

func (s *service) Transition(ctx context.Context, o *Order, to State) (bool, error) {
	log := logger.FromCtx(ctx).With(
		zap.Uint("order_id", o.ID),
		zap.String("from", string(o.State)),
		zap.String("to", string(to)),
	)

	t, ok := s.workflow.TransitionTo(o.State, to)
	if !ok {
		log.Warn("No workflow transition to target state, order left unchanged",
			zap.String("workflow", s.workflow.ID),
		)
		return false, nil
	}

	if err := s.repo.UpdateState(ctx, o.ID, o.State, to); err != nil {
		log.Error("Failed to update order state", zap.Error(err))
		return false, err
	}

	log.Info("Order transitioned", zap.String("transition", t.ID))
	o.State = to
	return true, nil
}

func (s *service) SetTransactionID(ctx context.Context, o *Order, transactionID string) error {
	if err := s.repo.SetData(ctx, o.ID, DataTransactionID, transactionID); err != nil {
		return err
	}
	if o.Data == nil {
		o.Data = map[string]string{}
	}
	o.Data[DataTransactionID] = transactionID
	return nil
}
