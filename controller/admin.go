// Copyright 2025 The respd Authors
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

package controller

import (
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cast"

	"github.com/packetd/respd/common"
	"github.com/packetd/respd/confengine"
	"github.com/packetd/respd/internal/rescue"
	"github.com/packetd/respd/internal/sigs"
	"github.com/packetd/respd/logger"
)

type AdminConfig struct {
	Enabled bool          `config:"enabled"`
	Address string        `config:"address"`
	Pprof   bool          `config:"pprof"`
	Timeout time.Duration `config:"timeout"`
}

// adminServer 管理侧 HTTP 服务 承载指标暴露与运维操作
//
// 与 RESP 数据面完全隔离 仅在配置启用时存在
type adminServer struct {
	config AdminConfig
	router *mux.Router
	server *http.Server
	ctr    *Controller
}

// newAdminServer 创建管理服务 .Enabled 为 false 时返回空指针 调用方需先判断
func newAdminServer(conf *confengine.Config, ctr *Controller) (*adminServer, error) {
	var config AdminConfig
	if err := conf.UnpackChild("admin", &config); err != nil {
		return nil, err
	}
	if !config.Enabled {
		return nil, nil
	}

	router := mux.NewRouter()
	s := &adminServer{
		config: config,
		router: router,
		ctr:    ctr,
		server: &http.Server{
			Handler:      router,
			ReadTimeout:  config.Timeout,
			WriteTimeout: config.Timeout,
		},
	}
	s.setupRoutes()
	return s, nil
}

func (s *adminServer) setupRoutes() {
	// Metrics Routes
	s.router.Methods(http.MethodGet).Path("/metrics").HandlerFunc(s.routeMetrics)

	// Admin Routes
	s.router.Methods(http.MethodPost).Path("/-/logger").HandlerFunc(s.routeLogger)
	s.router.Methods(http.MethodPost).Path("/-/reload").HandlerFunc(s.routeReload)
	s.router.Methods(http.MethodGet).Path("/-/status").HandlerFunc(s.routeStatus)

	// Keyspace Routes
	s.router.Methods(http.MethodGet).Path("/keyspace").HandlerFunc(s.routeKeyspace)

	if s.config.Pprof {
		s.router.Methods(http.MethodGet).Path("/debug/pprof/cmdline").HandlerFunc(pprof.Cmdline)
		s.router.Methods(http.MethodGet).Path("/debug/pprof/profile").HandlerFunc(pprof.Profile)
		s.router.Methods(http.MethodGet).Path("/debug/pprof/symbol").HandlerFunc(pprof.Symbol)
		s.router.Methods(http.MethodGet).Path("/debug/pprof/trace").HandlerFunc(pprof.Trace)
		s.router.Methods(http.MethodGet).Path("/debug/pprof/{other}").HandlerFunc(pprof.Index)
	}
}

// Start 启动管理服务 监听失败仅记录错误 不影响数据面
func (s *adminServer) Start() {
	go func() {
		defer rescue.HandleCrash()

		l, err := net.Listen("tcp", s.config.Address)
		if err != nil {
			logger.Errorf("admin server listen on %s failed: %v", s.config.Address, err)
			return
		}
		logger.Infof("admin server listening on %s", s.config.Address)
		if err := s.server.Serve(l); err != nil && err != http.ErrServerClosed {
			logger.Errorf("admin server exited: %v", err)
		}
	}()
}

func (s *adminServer) Close() error {
	return s.server.Close()
}

func (s *adminServer) routeMetrics(w http.ResponseWriter, r *http.Request) {
	s.ctr.recordMetrics()
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *adminServer) routeLogger(w http.ResponseWriter, r *http.Request) {
	level := r.FormValue("level")
	logger.SetLoggerLevel(level)
	w.Write([]byte(`{"status": "success"}`))
}

func (s *adminServer) routeReload(w http.ResponseWriter, r *http.Request) {
	if err := sigs.SelfReload(); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(err.Error()))
		return
	}
}

func (s *adminServer) routeStatus(w http.ResponseWriter, r *http.Request) {
	info := s.ctr.buildInfo
	b, err := json.Marshal(map[string]any{
		"app":        common.App,
		"version":    info.Version,
		"git_hash":   info.GitHash,
		"build_time": info.Time,
		"uptime":     time.Now().Unix() - common.Started(),
		"keys":       s.ctr.store.Len(),
	})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

// routeKeyspace 采样观测键空间 limit 限制返回的 key 数量
func (s *adminServer) routeKeyspace(w http.ResponseWriter, r *http.Request) {
	limit := cast.ToInt(r.FormValue("limit"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	b, err := json.Marshal(map[string]any{
		"shards": s.ctr.store.ShardLens(),
		"keys":   s.ctr.store.Keys(limit),
	})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}
