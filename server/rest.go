// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/google/uuid"
	"github.com/gorse-io/recommender/base/log"
	"github.com/gorse-io/recommender/common/parallel"
	"github.com/gorse-io/recommender/config"
	"github.com/gorse-io/recommender/logics"
	"github.com/gorse-io/recommender/storage/data"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/emicklei/go-restful/otelrestful"
	"go.uber.org/zap"
)

const HistoryDetailsKey = "purchase_history_details"

// RestServer serves recommendations and catalog records over HTTP.
type RestServer struct {
	Config     *config.Config
	Catalog    *data.Catalog
	Registry   *logics.Registry
	WebService *restful.WebService
	HttpServer *http.Server
	limiter    parallel.RateLimiter
}

// NewRestServer creates a server. Call CreateWebService or StartHttpServer to
// register routes.
func NewRestServer(cfg *config.Config, catalog *data.Catalog, registry *logics.Registry) *RestServer {
	return &RestServer{
		Config:     cfg,
		Catalog:    catalog,
		Registry:   registry,
		WebService: new(restful.WebService),
		limiter:    parallel.NewRateLimiter(cfg.Server.RateLimit),
	}
}

// Recommendation is the response of recommendation endpoints. Every record of
// Recommendations carries ai_score and match_percentage, except for fallback
// responses which return raw catalog records.
type Recommendation struct {
	UserId          int64       `json:"user_id"`
	ItemId          *int64      `json:"item_id,omitempty"`
	Note            string      `json:"note,omitempty"`
	Type            string      `json:"type,omitempty"`
	Recommendations []data.Item `json:"recommendations"`
}

type HealthStatus struct {
	Ready            bool                     `json:"ready"`
	CatalogError     string                   `json:"catalog_error,omitempty"`
	CatalogConnected bool                     `json:"catalog_connected"`
	Models           map[string]logics.Status `json:"models"`
}

// StartHttpServer registers routes on a new container and serves until Shutdown.
func (s *RestServer) StartHttpServer(container *restful.Container) {
	s.CreateWebService()
	s.Register(container)
	container.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)
	s.HttpServer = &http.Server{
		Addr:    addr,
		Handler: container,
	}
	log.Logger().Info("start http server", zap.String("url", "http://"+addr))
	if err := s.HttpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Logger().Fatal("failed to start http server", zap.Error(err))
	}
}

// Shutdown stops accepting requests and waits for running ones.
func (s *RestServer) Shutdown(ctx context.Context) error {
	if s.HttpServer == nil {
		return nil
	}
	return errors.Trace(s.HttpServer.Shutdown(ctx))
}

// Register adds the web service, the OpenAPI document and the container filters.
func (s *RestServer) Register(container *restful.Container) {
	container.Add(s.WebService)
	container.Add(restfulspec.NewOpenAPIService(restfulspec.Config{
		WebServices: container.RegisteredWebServices(),
		APIPath:     "/apidocs.json",
	}))
	cors := restful.CrossOriginResourceSharing{
		AllowedHeaders: []string{restful.HEADER_ContentType, log.RequestIdHeader},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		ExposeHeaders:  []string{log.RequestIdHeader},
		CookiesAllowed: true,
		Container:      container,
	}
	// an empty domain list allows every origin
	if !lo.Contains(s.Config.Server.AllowedOrigins, "*") {
		cors.AllowedDomains = s.Config.Server.AllowedOrigins
	}
	container.Filter(otelrestful.OTelFilter("gorse-recommender"))
	container.Filter(RequestIdFilter)
	container.Filter(cors.Filter)
	container.Filter(container.OPTIONSFilter)
}

// RequestIdFilter echoes the request id or assigns a new one.
func RequestIdFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	requestId := req.HeaderParameter(log.RequestIdHeader)
	if requestId == "" {
		requestId = uuid.NewString()
	}
	resp.Header().Set(log.RequestIdHeader, requestId)
	chain.ProcessFilter(req, resp)
}

func LogFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	start := time.Now()
	chain.ProcessFilter(req, resp)
	log.ResponseLogger(resp).Info(fmt.Sprintf("%s %s", req.Request.Method, req.Request.URL),
		zap.Int("status_code", resp.StatusCode()),
		zap.Duration("duration", time.Since(start)))
}

// RateLimitFilter rejects requests once the token bucket is drained.
func (s *RestServer) RateLimitFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	if s.limiter.TakeAvailable(1) == 0 {
		RateLimitedTotal.Inc()
		if err := resp.WriteErrorString(http.StatusTooManyRequests, "too many requests"); err != nil {
			log.ResponseLogger(resp).Error("failed to write error", zap.Error(err))
		}
		return
	}
	chain.ProcessFilter(req, resp)
}

// CreateWebService creates web service.
func (s *RestServer) CreateWebService() {
	ws := s.WebService
	ws.Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	ws.Path("/api/")
	ws.Filter(LogFilter)

	/* Recommendations */

	for _, strategy := range append(slices.Clone(logics.Strategies), "svd") {
		ws.Route(ws.GET(fmt.Sprintf("/recommend_%s/{user-id}", strategy)).To(s.recommend(strategy)).
			Doc(fmt.Sprintf("Rank the whole catalog for a user with the %s strategy.", strategy)).
			Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
			Filter(s.RateLimitFilter).
			Param(ws.PathParameter("user-id", "identifier of the user").DataType("integer")).
			Param(ws.QueryParameter("k", "number of returned items").DataType("integer")).
			Returns(http.StatusOK, "OK", Recommendation{}).
			Returns(http.StatusNotFound, "unknown user or item", nil).
			Returns(http.StatusServiceUnavailable, "model not loaded", nil).
			Writes(Recommendation{}))
		ws.Route(ws.GET(fmt.Sprintf("/recommend_%s/{user-id}/context/{item-id}", strategy)).To(s.recommendWithContext(strategy)).
			Doc(fmt.Sprintf("Rank items related to a seed item for a user with the %s strategy.", strategy)).
			Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
			Filter(s.RateLimitFilter).
			Param(ws.PathParameter("user-id", "identifier of the user").DataType("integer")).
			Param(ws.PathParameter("item-id", "identifier of the seed item").DataType("integer")).
			Param(ws.QueryParameter("k", "number of returned items").DataType("integer")).
			Returns(http.StatusOK, "OK", Recommendation{}).
			Returns(http.StatusNotFound, "unknown user or item", nil).
			Returns(http.StatusServiceUnavailable, "model not loaded", nil).
			Writes(Recommendation{}))
	}

	/* Catalog */

	ws.Route(ws.GET("/products/{item-id}").To(s.getProduct).
		Doc("Get an item.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"product"}).
		Param(ws.PathParameter("item-id", "identifier of the item").DataType("integer")).
		Writes(data.Item{}))
	ws.Route(ws.GET("/products/{page}/page/{size}").To(s.getProducts).
		Doc("Get a page of items.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"product"}).
		Param(ws.PathParameter("page", "page number starting from 1").DataType("integer")).
		Param(ws.PathParameter("size", "number of items in a page").DataType("integer")).
		Writes([]data.Item{}))
	ws.Route(ws.GET("/users/").To(s.getUsers).
		Doc("Get all users.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"user"}).
		Writes([]data.User{}))
	ws.Route(ws.GET("/users/{user-id}").To(s.getUser).
		Doc("Get a user with the records of the purchase history.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"user"}).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("integer")).
		Writes(data.User{}))

	/* Health */

	ws.Route(ws.GET("/health").To(s.checkLive).
		Doc("Get the status of the catalog and the models.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"health"}).
		Writes(HealthStatus{}))
	ws.Route(ws.GET("/health/ready").To(s.checkReady).
		Doc("Report whether the server is able to serve recommendations.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"health"}).
		Writes(HealthStatus{}))
}

// ParseInt parses an integer query parameter, falling back when it is absent.
func ParseInt(request *restful.Request, name string, fallback int) (value int, err error) {
	valueString := request.QueryParameter(name)
	value, err = strconv.Atoi(valueString)
	if err != nil && valueString == "" {
		value = fallback
		err = nil
	}
	return
}

// ParseId parses an integer path parameter.
func ParseId(request *restful.Request, name string) (int64, error) {
	value := request.PathParameter(name)
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, errors.NotValidf("%s %q", name, value)
	}
	return id, nil
}

func (s *RestServer) parseK(request *restful.Request) (int, error) {
	k, err := ParseInt(request, "k", s.Config.Server.DefaultN)
	if err != nil {
		return 0, errors.NotValidf("k %q", request.QueryParameter("k"))
	}
	if k < 0 {
		return 0, errors.NotValidf("negative k %d", k)
	}
	return k, nil
}

func (s *RestServer) recommend(strategy string) restful.RouteFunction {
	return func(request *restful.Request, response *restful.Response) {
		userId, err := ParseId(request, "user-id")
		if err != nil {
			BadRequest(response, err)
			return
		}
		k, err := s.parseK(request)
		if err != nil {
			BadRequest(response, err)
			return
		}
		recommender, err := s.Registry.Get(strategy)
		if err != nil {
			Error(response, err)
			return
		}
		start := time.Now()
		result, err := recommender.Recommend(request.Request.Context(), userId, k)
		if err != nil {
			RecommendErrorsTotal.WithLabelValues(recommender.Name(), modeCatalog).Inc()
			Error(response, err)
			return
		}
		RecommendSeconds.WithLabelValues(recommender.Name(), modeCatalog).Observe(time.Since(start).Seconds())
		s.writeRecommendation(request.Request.Context(), response, userId, nil, result)
	}
}

func (s *RestServer) recommendWithContext(strategy string) restful.RouteFunction {
	return func(request *restful.Request, response *restful.Response) {
		userId, err := ParseId(request, "user-id")
		if err != nil {
			BadRequest(response, err)
			return
		}
		itemId, err := ParseId(request, "item-id")
		if err != nil {
			BadRequest(response, err)
			return
		}
		k, err := s.parseK(request)
		if err != nil {
			BadRequest(response, err)
			return
		}
		recommender, err := s.Registry.Get(strategy)
		if err != nil {
			Error(response, err)
			return
		}
		start := time.Now()
		result, err := recommender.RecommendWithContext(request.Request.Context(), userId, itemId, k)
		if err != nil {
			RecommendErrorsTotal.WithLabelValues(recommender.Name(), modeContext).Inc()
			Error(response, err)
			return
		}
		RecommendSeconds.WithLabelValues(recommender.Name(), modeContext).Observe(time.Since(start).Seconds())
		s.writeRecommendation(request.Request.Context(), response, userId, &itemId, result)
	}
}

func (s *RestServer) writeRecommendation(ctx context.Context, response *restful.Response, userId int64, itemId *int64, result *logics.Result) {
	recommendation := Recommendation{
		UserId: userId,
		ItemId: itemId,
		Note:   result.Note,
		Type:   result.Type,
	}
	if result.Type == logics.TypePopularFallback {
		recommendation.Recommendations = result.Fallback
	} else {
		items, err := s.Hydrate(ctx, result.Candidates)
		if err != nil {
			InternalServerError(response, err)
			return
		}
		recommendation.Recommendations = items
	}
	if recommendation.Recommendations == nil {
		recommendation.Recommendations = []data.Item{}
	}
	Ok(response, recommendation)
}

// Hydrate fetches the catalog records of candidates and attaches the formatted
// scores. The order of candidates is kept and candidates missing from the catalog
// are dropped.
func (s *RestServer) Hydrate(ctx context.Context, candidates []logics.Candidate) ([]data.Item, error) {
	start := time.Now()
	defer func() { HydrateSeconds.Observe(time.Since(start).Seconds()) }()
	itemIds := lo.Map(candidates, func(c logics.Candidate, _ int) int64 { return c.ItemId })
	records, err := s.Catalog.BatchGetItems(ctx, itemIds)
	if err != nil {
		return nil, errors.Trace(err)
	}
	itemIdColumn := s.Config.Catalog.ItemIdColumn
	found := lo.KeyBy(records, func(item data.Item) int64 {
		itemId, _ := data.ToInt64(item[itemIdColumn])
		return itemId
	})
	items := make([]data.Item, 0, len(candidates))
	for _, candidate := range candidates {
		item, ok := found[candidate.ItemId]
		if !ok {
			continue
		}
		item["ai_score"] = logics.FormatScore(candidate.Score)
		item["match_percentage"] = logics.FormatPercentage(candidate.Percentage)
		items = append(items, item)
	}
	return items, nil
}

func (s *RestServer) getProduct(request *restful.Request, response *restful.Response) {
	itemId, err := ParseId(request, "item-id")
	if err != nil {
		BadRequest(response, err)
		return
	}
	item, err := s.Catalog.GetItem(request.Request.Context(), itemId)
	if err != nil {
		Error(response, err)
		return
	}
	Ok(response, item)
}

func (s *RestServer) getProducts(request *restful.Request, response *restful.Response) {
	page, err := strconv.Atoi(request.PathParameter("page"))
	if err != nil {
		BadRequest(response, errors.NotValidf("page %q", request.PathParameter("page")))
		return
	}
	size, err := strconv.Atoi(request.PathParameter("size"))
	if err != nil {
		BadRequest(response, errors.NotValidf("size %q", request.PathParameter("size")))
		return
	}
	items, err := s.Catalog.GetItems(request.Request.Context(), page, size)
	if err != nil {
		Error(response, err)
		return
	}
	Ok(response, items)
}

func (s *RestServer) getUsers(request *restful.Request, response *restful.Response) {
	users, err := s.Catalog.GetUsers(request.Request.Context())
	if err != nil {
		InternalServerError(response, err)
		return
	}
	Ok(response, users)
}

func (s *RestServer) getUser(request *restful.Request, response *restful.Response) {
	userId, err := ParseId(request, "user-id")
	if err != nil {
		BadRequest(response, err)
		return
	}
	user, history, err := s.Catalog.GetUser(request.Request.Context(), userId)
	if err != nil {
		Error(response, err)
		return
	}
	user[HistoryDetailsKey] = history
	Ok(response, user)
}

func (s *RestServer) checkHealth(ctx context.Context) HealthStatus {
	status := HealthStatus{Models: s.Registry.Status()}
	if err := s.Catalog.Ping(ctx); err != nil {
		status.CatalogError = err.Error()
	} else {
		status.CatalogConnected = true
	}
	status.Ready = status.CatalogConnected && lo.SomeBy(lo.Values(status.Models), func(m logics.Status) bool {
		return m.Loaded
	})
	return status
}

func (s *RestServer) checkLive(request *restful.Request, response *restful.Response) {
	Ok(response, s.checkHealth(request.Request.Context()))
}

func (s *RestServer) checkReady(request *restful.Request, response *restful.Response) {
	status := s.checkHealth(request.Request.Context())
	if !status.Ready {
		if err := response.WriteHeaderAndJson(http.StatusServiceUnavailable, status, restful.MIME_JSON); err != nil {
			log.ResponseLogger(response).Error("failed to write json", zap.Error(err))
		}
		return
	}
	Ok(response, status)
}

// Error writes the status code matching the error kind.
func Error(response *restful.Response, err error) {
	switch {
	case errors.Is(err, errors.NotAssigned):
		ServiceUnavailable(response, err)
	case errors.Is(err, errors.NotFound):
		PageNotFound(response, err)
	case errors.Is(err, errors.NotValid):
		BadRequest(response, err)
	default:
		InternalServerError(response, err)
	}
}

// BadRequest returns a bad request error.
func BadRequest(response *restful.Response, err error) {
	log.ResponseLogger(response).Warn("bad request", zap.Error(err))
	if err = response.WriteError(http.StatusBadRequest, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// InternalServerError returns a internal server error.
func InternalServerError(response *restful.Response, err error) {
	log.ResponseLogger(response).Error("internal server error", zap.Error(err))
	if err = response.WriteError(http.StatusInternalServerError, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// ServiceUnavailable returns an error naming the model that is not loaded.
func ServiceUnavailable(response *restful.Response, err error) {
	log.ResponseLogger(response).Warn("service unavailable", zap.Error(err))
	if err = response.WriteError(http.StatusServiceUnavailable, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// PageNotFound returns a not found error.
func PageNotFound(response *restful.Response, err error) {
	if err := response.WriteError(http.StatusNotFound, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// Ok sends the content as JSON to the client.
func Ok(response *restful.Response, content any) {
	if err := response.WriteAsJson(content); err != nil {
		log.ResponseLogger(response).Error("failed to write json", zap.Error(err))
	}
}
