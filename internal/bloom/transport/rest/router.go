// Package rest exposes the membership service over HTTP: filter lifecycle
// management, membership queries, and the row-mutation hooks that client
// integrations call in place of database triggers.
package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/octobloom/octobloom/internal/bloom/common/log"
	"github.com/octobloom/octobloom/internal/bloom/domain"
)

// MembershipService is the application surface the API fronts. The
// membership package implements it.
type MembershipService interface {
	Init(table, column string, expectedCount uint64, fpRate float64) error
	CreateColumn(table, column string) error
	MightContain(table, column string, value []byte) (bool, error)
	Exists(table, column string, value []byte) (bool, error)
	RecordInsert(table, column string, value []byte) error
	RecordUpdate(table, column string, oldValue, newValue []byte) error
	RecordDelete(table, column string, value []byte) error
	Rebuild(table, column string) error
	Disable(table, column string) error
	Status(table, column string) (domain.FilterStatus, error)
	StatusAll() []domain.FilterStatus
}

type API struct {
	Router *gin.Engine
	svc    MembershipService
	logger log.Logger
}

// New builds the HTTP API around svc. A nil logger discards logs.
func New(svc MembershipService, logger log.Logger) *API {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	gin.SetMode(gin.ReleaseMode) // don't print route list on start

	a := &API{svc: svc, logger: logger}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(a.errorLogger)

	router.GET("/", getRoot)
	router.GET("/healthz", getHealth)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/filters", a.postFilter)
		v1.GET("/filters", a.getFilters)
		v1.GET("/filters/:table/:column", a.getFilter)
		v1.DELETE("/filters/:table/:column", a.deleteFilter)
		v1.POST("/filters/:table/:column/rebuild", a.postRebuild)

		v1.POST("/tables/:table/columns/:column", a.postColumn)
		v1.GET("/tables/:table/columns/:column/might-contain", a.getMightContain)
		v1.GET("/tables/:table/columns/:column/exists", a.getExists)

		v1.POST("/tables/:table/rows", a.postRows)
		v1.PUT("/tables/:table/rows", a.putRows)
		v1.DELETE("/tables/:table/rows", a.deleteRows)
	}

	// prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.Router = router
	return a
}

func getRoot(c *gin.Context) {
	c.String(http.StatusOK, "octobloom")
}

func getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// errorLogger logs every error a handler attached to the context.
func (a *API) errorLogger(c *gin.Context) {
	c.Next()
	for _, err := range c.Errors {
		a.logger.Error(map[string]any{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"error":  err.Error(),
		}, "request failed")
	}
}

// statusCode maps domain error kinds onto HTTP status codes.
func statusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidParameter), errors.Is(err, domain.ErrFormat):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnknownAttribute):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrCapacityExceeded), errors.Is(err, domain.ErrAllocationFailure):
		return http.StatusInsufficientStorage
	case errors.Is(err, domain.ErrUnsupportedOperation):
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(statusCode(err), gin.H{"error": err.Error()})
}

type filterRequest struct {
	Table         string  `json:"table" binding:"required"`
	Column        string  `json:"column" binding:"required"`
	ExpectedCount uint64  `json:"expected_count"`
	FPRate        float64 `json:"fp_rate"`
}

type filterStatusResponse struct {
	Table             string    `json:"table"`
	Column            string    `json:"column"`
	ExpectedCount     uint64    `json:"expected_count"`
	FalsePositiveRate float64   `json:"fp_rate"`
	BitArraySizeBits  uint64    `json:"bit_array_size_bits"`
	NumHashes         uint32    `json:"num_hashes"`
	ObservedCount     uint64    `json:"observed_count"`
	MemoryBytes       uint64    `json:"memory_bytes"`
	Valid             bool      `json:"valid"`
	RegisteredAt      time.Time `json:"registered_at"`
	RebuiltAt         time.Time `json:"rebuilt_at,omitzero"`
}

func toStatusResponse(st domain.FilterStatus) filterStatusResponse {
	return filterStatusResponse{
		Table:             st.Key.Table,
		Column:            st.Key.Column,
		ExpectedCount:     st.ExpectedCount,
		FalsePositiveRate: st.FalsePositiveRate,
		BitArraySizeBits:  st.BitArraySizeBits,
		NumHashes:         st.NumHashes,
		ObservedCount:     st.ObservedCount,
		MemoryBytes:       st.MemoryBytes,
		Valid:             st.Valid,
		RegisteredAt:      st.RegisteredAt,
		RebuiltAt:         st.RebuiltAt,
	}
}

func (a *API) postFilter(c *gin.Context) {
	var req filterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.svc.Init(req.Table, req.Column, req.ExpectedCount, req.FPRate); err != nil {
		a.fail(c, err)
		return
	}
	st, err := a.svc.Status(req.Table, req.Column)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toStatusResponse(st))
}

func (a *API) getFilters(c *gin.Context) {
	all := a.svc.StatusAll()
	out := make([]filterStatusResponse, 0, len(all))
	for _, st := range all {
		out = append(out, toStatusResponse(st))
	}
	c.JSON(http.StatusOK, gin.H{"filters": out})
}

func (a *API) getFilter(c *gin.Context) {
	st, err := a.svc.Status(c.Param("table"), c.Param("column"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toStatusResponse(st))
}

func (a *API) deleteFilter(c *gin.Context) {
	if err := a.svc.Disable(c.Param("table"), c.Param("column")); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) postRebuild(c *gin.Context) {
	if err := a.svc.Rebuild(c.Param("table"), c.Param("column")); err != nil {
		a.fail(c, err)
		return
	}
	st, err := a.svc.Status(c.Param("table"), c.Param("column"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toStatusResponse(st))
}

func (a *API) postColumn(c *gin.Context) {
	if err := a.svc.CreateColumn(c.Param("table"), c.Param("column")); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

// queryValue pulls the mandatory ?value= parameter. An empty value is a
// legal probe; only its absence is an error.
func queryValue(c *gin.Context) ([]byte, bool) {
	v, ok := c.GetQuery("value")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query parameter: value"})
		return nil, false
	}
	return []byte(v), true
}

func (a *API) getMightContain(c *gin.Context) {
	value, ok := queryValue(c)
	if !ok {
		return
	}
	maybe, err := a.svc.MightContain(c.Param("table"), c.Param("column"), value)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"might_contain": maybe})
}

func (a *API) getExists(c *gin.Context) {
	value, ok := queryValue(c)
	if !ok {
		return
	}
	exists, err := a.svc.Exists(c.Param("table"), c.Param("column"), value)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exists": exists})
}

type insertRequest struct {
	// Values maps column name to the inserted value for that column.
	Values map[string]string `json:"values" binding:"required"`
}

func (a *API) postRows(c *gin.Context) {
	var req insertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	table := c.Param("table")
	for column, value := range req.Values {
		if err := a.svc.RecordInsert(table, column, []byte(value)); err != nil {
			a.fail(c, err)
			return
		}
	}
	c.Status(http.StatusNoContent)
}

type updateRequest struct {
	Column string `json:"column" binding:"required"`
	Old    string `json:"old"`
	New    string `json:"new"`
}

func (a *API) putRows(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.svc.RecordUpdate(c.Param("table"), req.Column, []byte(req.Old), []byte(req.New)); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type deleteRequest struct {
	Column string `json:"column" binding:"required"`
	Value  string `json:"value"`
}

func (a *API) deleteRows(c *gin.Context) {
	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.svc.RecordDelete(c.Param("table"), req.Column, []byte(req.Value)); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
