// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/itemsvc/core"
	"github.com/relabs-tech/itemsvc/core/logger"
	"github.com/relabs-tech/itemsvc/core/model"
	"github.com/relabs-tech/itemsvc/core/store"
)

// identifier returns the item identifier of the request in the type of the model's identifier field
func (b *Backend) identifier(req *request) (interface{}, error) {
	name := b.model.IDField().Name
	raw, ok := req.params[name]
	if !ok {
		return nil, badRequest("missing %s", name)
	}
	id, err := b.model.ParseID(model.FormatID(raw))
	if err != nil {
		return nil, badRequest("%s", err.Error())
	}
	return id, nil
}

func (b *Backend) listItems(ctx context.Context, req *request) (*response, error) {
	session, err := b.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	items, err := session.LoadItems(ctx)
	if err != nil {
		return nil, err
	}
	if limit, ok := req.params["limit"].(int64); ok && int64(len(items)) > limit {
		items = items[:limit]
	}
	result := make([]interface{}, len(items))
	for i, item := range items {
		result[i] = b.model.ToJSON(item.Values())
	}
	return &response{status: http.StatusOK, body: result}, nil
}

func (b *Backend) getItem(ctx context.Context, req *request) (*response, error) {
	id, err := b.identifier(req)
	if err != nil {
		return nil, err
	}
	session, err := b.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	item, err := session.LoadItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return &response{status: http.StatusNotFound}, nil
	}
	return &response{status: http.StatusOK, body: b.model.ToJSON(item.Values())}, nil
}

func (b *Backend) putItem(ctx context.Context, req *request) (*response, error) {
	rlog := logger.FromContext(ctx)
	id, err := b.identifier(req)
	if err != nil {
		return nil, err
	}
	idField := b.model.IDField()
	values := b.model.FromJSON(req.body)
	if bodyID, ok := values[idField.Name]; ok && bodyID != nil {
		if model.FormatID(bodyID) != model.FormatID(id) {
			return nil, badRequest("identifier mismatch for %s", b.model.Name())
		}
	}
	values[idField.Name] = id

	session, err := b.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	item, err := session.LoadItem(ctx, id)
	if err != nil {
		return nil, err
	}
	status := http.StatusOK
	operation := core.OperationUpdate
	if item != nil {
		item.SetValues(values)
	} else {
		status = http.StatusCreated
		operation = core.OperationCreate
		item = b.store.CreateItem(values)
		session.Add(item)
	}
	if err = session.Commit(ctx); err != nil {
		session.Rollback()
		rlog.WithError(err).Errorf("%s of %s %v failed", operation, b.model.Name(), id)
		return nil, err
	}
	rlog.Infof("%s of %s %v", operation, b.model.Name(), id)
	b.notify(ctx, operation, id, item)
	return &response{status: status}, nil
}

func (b *Backend) deleteItem(ctx context.Context, req *request) (*response, error) {
	rlog := logger.FromContext(ctx)
	id, err := b.identifier(req)
	if err != nil {
		return nil, err
	}
	session, err := b.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	item, err := session.LoadItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return &response{status: http.StatusNotFound}, nil
	}
	session.Delete(item)
	if err = session.Commit(ctx); err != nil {
		session.Rollback()
		rlog.WithError(err).Errorf("delete of %s %v failed", b.model.Name(), id)
		return nil, err
	}
	rlog.Infof("delete of %s %v", b.model.Name(), id)
	b.notify(ctx, core.OperationDelete, id, nil)
	return &response{status: http.StatusNoContent}, nil
}

// notify sends a change notification for a committed item. Failures are logged, the
// change itself is already persisted.
func (b *Backend) notify(ctx context.Context, operation core.Operation, id interface{}, item *store.Item) {
	if b.notifier == nil {
		return
	}
	var payload []byte
	if item != nil {
		var err error
		payload, err = json.Marshal(b.model.ToJSON(item.Values()))
		if err != nil {
			logger.FromContext(ctx).WithError(err).Errorln("cannot marshal notification")
			b.metrics.Notified(err)
			return
		}
	}
	err := b.notifier.Notify(ctx, b.model.Resource(), operation, model.FormatID(id), payload)
	if err != nil {
		logger.FromContext(ctx).WithError(fmt.Errorf("notify %s %v: %w", operation, id, err)).Errorln("notification failed")
	}
	b.metrics.Notified(err)
}
