package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"fanwall.io/notes/common/logging"
	rt "fanwall.io/notes/common/retry"
	cst "fanwall.io/notes/constants"
	se "fanwall.io/notes/errors"
	md "fanwall.io/notes/models"
	st "fanwall.io/notes/store"
)

const (
	defaultListLimit = 10
	defaultListPage  = 0

	respMsgListFailed       = "error loading notes"
	respMsgMethodNotAllowed = "method not allowed"
	respMsgOK               = "OK"

	contentTypeJSON = "application/json; charset=utf-8"
)

type lister interface {
	List(limit, page int) ([]*md.Note, int, *se.Err)
}

// reader handles read traffic of the fan-note service. Multiple readers can
// run side by side; they share state only through the note store and the
// list cache
type noteReader struct {
	Router *gin.Engine
	Lister lister
	Cache  st.ListCache
}

func serve() error {
	viper.AutomaticEnv()
	setDefaults()
	logging.SetupLog("notes-reader")
	ns, err := setupNoteStore()
	if err != nil {
		return err
	}
	defer ns.Close()

	rdr := &noteReader{
		Lister: ns,
		Cache:  setupListCache(),
	}
	rdr.SetupRoutes()
	return rdr.Router.Run(viper.GetString(cst.EnvReaderAddr))
}

func setDefaults() {
	viper.SetDefault(cst.EnvReaderAddr, ":8081")
	viper.SetDefault(cst.EnvCouchAddr, "http://localhost:5984/")
	viper.SetDefault(cst.EnvCouchDBName, "fan_notes")
	viper.SetDefault(cst.EnvRedisPort, "6379")
	viper.SetDefault(cst.EnvRedisDB, 0)
	viper.SetDefault(cst.EnvReaderCacheTTLSecs, 30)
}

func setupNoteStore() (*st.CouchNoteStore, error) {
	ns, perr := st.NewCouchNoteStore(&st.CouchConfig{
		Addr:     viper.GetString(cst.EnvCouchAddr),
		DBName:   viper.GetString(cst.EnvCouchDBName),
		Username: viper.GetString(cst.EnvCouchUser),
		Passwd:   viper.GetString(cst.EnvCouchPasswd),
	})
	if perr != nil {
		return nil, perr
	}
	ping := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return ns.Ping(ctx)
	}
	if err := rt.Retry(ping,
		rt.WithTimeout(30*time.Second),
		rt.WithBaseDelay(100*time.Millisecond),
		rt.WithExp(2.0),
		rt.WithMaxBackoff(5*time.Second),
		rt.WithRetryOn(rt.IsDepOffline),
	); err != nil {
		return nil, se.ErrServiceFailure("failed reaching the note store").WithCause(err)
	}
	return ns, nil
}

// setupListCache wires Redis when configured. Readers run fine without it;
// every request then hits the store directly
func setupListCache() st.ListCache {
	host := viper.GetString(cst.EnvRedisHost)
	if host == "" {
		log.Info("no list cache configured")
		return nil
	}
	db := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, viper.GetString(cst.EnvRedisPort)),
		Password: viper.GetString(cst.EnvRedisPasswd),
		DB:       viper.GetInt(cst.EnvRedisDB),
	})
	return &st.RedisListCache{
		DB:  db,
		TTL: time.Duration(viper.GetInt(cst.EnvReaderCacheTTLSecs)) * time.Second,
	}
}

func (rdr *noteReader) SetupRoutes() {
	router := gin.Default()
	router.Use(corsHeaders())

	router.GET("/notes", rdr.HandleTaskListNotes)
	router.OPTIONS("/notes", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"message": respMsgOK})
	})
	router.HandleMethodNotAllowed = true
	router.NoMethod(func(ctx *gin.Context) {
		ctx.JSON(http.StatusMethodNotAllowed, gin.H{"message": respMsgMethodNotAllowed})
	})
	rdr.Router = router
}

func corsHeaders() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Header("Access-Control-Allow-Origin", "*")
		ctx.Header("Access-Control-Allow-Headers", "Content-Type")
		ctx.Next()
	}
}

type listResponse struct {
	Notes []*md.NoteView `json:"notes"`
	Count int            `json:"count"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
}

func (rdr *noteReader) HandleTaskListNotes(ctx *gin.Context) {
	limit := queryInt(ctx, "limit", defaultListLimit)
	if limit <= 0 {
		limit = defaultListLimit
	}
	page := queryInt(ctx, "page", defaultListPage)
	if page < 0 {
		page = defaultListPage
	}

	key := st.ListCacheKey(limit, page)
	if rdr.Cache != nil {
		if cached, ok := rdr.Cache.Get(key); ok {
			ctx.Data(http.StatusOK, contentTypeJSON, []byte(cached))
			return
		}
	}

	notes, total, perr := rdr.Lister.List(limit, page)
	if perr != nil {
		log.WithError(perr).Error("error listing notes")
		ctx.JSON(perr.StatusCode(), gin.H{"message": respMsgListFailed})
		return
	}
	views := make([]*md.NoteView, 0, len(notes))
	for _, n := range notes {
		views = append(views, n.View())
	}
	resp := &listResponse{Notes: views, Count: total, Page: page, Limit: limit}
	raw, err := json.Marshal(resp)
	if err != nil {
		log.WithError(err).Error("error serializing note listing")
		ctx.JSON(http.StatusInternalServerError, gin.H{"message": respMsgListFailed})
		return
	}
	if rdr.Cache != nil {
		rdr.Cache.Put(key, string(raw))
	}
	ctx.Data(http.StatusOK, contentTypeJSON, raw)
}

// queryInt parses a numeric query parameter, falling back to def when the
// parameter is absent or malformed
func queryInt(ctx *gin.Context, name string, def int) int {
	raw := ctx.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
