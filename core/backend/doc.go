/*
Package backend implements the item REST backend

A backend serves the items of one domain model. The routes are not hard coded,
they come from an OpenAPI description (see package apispec). Every operation
of the description is bound to a handler by its operationId:

	listItems   GET    /items?limit=N      200 with a JSON array
	getItem     GET    /items/{id}         200 with the item, 404
	putItem     PUT    /items/{id}         200 updated, 201 created, 400
	deleteItem  DELETE /items/{id}         204, 404

An operationId without a handler is a startup error.

Parameters

Path, query and header parameters are parsed according to the type of their
schema (integer, number, boolean or string) and validated against it, so
minimum, maximum and enum apply. A missing required parameter, a value which
cannot be parsed or an unknown query parameter is answered with 400. Absent
parameters with a default get the default.

Request bodies

A request body is decoded with numbers kept as json.Number and validated
against its JSON schema, which is derived from the OpenAPI schema of the
description. The item schema does not allow additional properties, unknown
fields are therefore answered with 400 as well. For putItem, an identifier in
the body must match the identifier of the path.

Transactions

Every request runs in its own store session. Mutations are committed at the
end of the handler; on failure the session is rolled back and the request is
answered with 500, the details go to the log only. After a successful commit
the optional notifier receives the change.

Additional routes

	GET /version       the build version
	GET /openapi.yaml  the API description
	GET /metrics       Prometheus metrics, if the backend has metrics
*/
package backend
