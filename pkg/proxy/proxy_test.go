package proxy_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/wrtkit/router-command/mocks"
	"github.com/wrtkit/router-command/pkg/coordinator"
	"github.com/wrtkit/router-command/pkg/protocol"
	"github.com/wrtkit/router-command/pkg/proxy"
	"github.com/wrtkit/router-command/pkg/registry"
)

const routerName = "lounge"

var _ = Describe("Proxy", func() {
	var (
		ctrl     *gomock.Controller
		p        *proxy.Proxy
		target   *mocks.ProxyTarget
		verifier *proxy.TokenVerifier
		token    string
	)

	sendRequest := func(method, path, token string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rr := httptest.NewRecorder()
		p.ServeHTTP(rr, req)
		return rr
	}

	errorLabel := func(rr *httptest.ResponseRecorder) string {
		var reply proxy.Response
		Expect(json.Unmarshal(rr.Body.Bytes(), &reply)).To(Succeed())
		return reply.Error
	}

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		target = mocks.NewProxyTarget(ctrl)
		verifier = proxy.NewTokenVerifier([]byte("test-secret"), "wrt-proxy-test")
		p = proxy.New(verifier)
		p.AddTarget(routerName, target)

		var err error
		token, err = verifier.Mint("test-client", []string{routerName}, time.Hour)
		Expect(err).NotTo(HaveOccurred())

		DeferCleanup(func() {
			ctrl.Finish()
		})
	})

	Describe("authentication", func() {
		It("rejects requests without a token", func() {
			rr := sendRequest(http.MethodGet, "/api/1/routers/lounge/data/system_board", "", nil)
			Expect(rr.Code).To(Equal(http.StatusUnauthorized))
			Expect(errorLabel(rr)).To(Equal("missing_token"))
		})

		It("rejects tokens that do not parse", func() {
			rr := sendRequest(http.MethodGet, "/api/1/routers/lounge/data/system_board", "not.a.jwt", nil)
			Expect(rr.Code).To(Equal(http.StatusUnauthorized))
			Expect(errorLabel(rr)).To(Equal("invalid_token"))
		})

		It("rejects expired tokens", func() {
			expired, err := verifier.Mint("test-client", []string{routerName}, -time.Minute)
			Expect(err).NotTo(HaveOccurred())
			rr := sendRequest(http.MethodGet, "/api/1/routers/lounge/data/system_board", expired, nil)
			Expect(rr.Code).To(Equal(http.StatusUnauthorized))
		})

		It("rejects tokens signed with a different secret", func() {
			foreign := proxy.NewTokenVerifier([]byte("other-secret"), "wrt-proxy-test")
			forged, err := foreign.Mint("test-client", []string{routerName}, time.Hour)
			Expect(err).NotTo(HaveOccurred())
			rr := sendRequest(http.MethodGet, "/api/1/routers/lounge/data/system_board", forged, nil)
			Expect(rr.Code).To(Equal(http.StatusUnauthorized))
		})

		It("rejects tokens from a different issuer", func() {
			foreign := proxy.NewTokenVerifier([]byte("test-secret"), "somebody-else")
			borrowed, err := foreign.Mint("test-client", []string{routerName}, time.Hour)
			Expect(err).NotTo(HaveOccurred())
			rr := sendRequest(http.MethodGet, "/api/1/routers/lounge/data/system_board", borrowed, nil)
			Expect(rr.Code).To(Equal(http.StatusUnauthorized))
		})

		It("rejects tokens scoped to other routers", func() {
			other, err := verifier.Mint("test-client", []string{"attic"}, time.Hour)
			Expect(err).NotTo(HaveOccurred())
			rr := sendRequest(http.MethodGet, "/api/1/routers/lounge/data/system_board", other, nil)
			Expect(rr.Code).To(Equal(http.StatusForbidden))
			Expect(errorLabel(rr)).To(Equal("router_not_allowed"))
		})

		It("accepts wildcard tokens for any configured router", func() {
			wildcard, err := verifier.Mint("test-admin", []string{"*"}, time.Hour)
			Expect(err).NotTo(HaveOccurred())
			target.EXPECT().Get(gomock.Any(), registry.SystemBoard).
				Return(map[string]interface{}{"hostname": "OpenWrt"}, nil)
			rr := sendRequest(http.MethodGet, "/api/1/routers/lounge/data/system_board", wildcard, nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
		})

		It("serves health checks without a token", func() {
			rr := sendRequest(http.MethodGet, "/health", "", nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(rr.Body.String()).To(MatchJSON(`{"response":{"status":"ok"}}`))
		})
	})

	Describe("reading data", func() {
		It("returns the decoded value in the response envelope", func() {
			target.EXPECT().Get(gomock.Any(), registry.SystemBoard).
				Return(map[string]interface{}{"hostname": "OpenWrt", "model": "Linksys E8450"}, nil)
			rr := sendRequest(http.MethodGet, "/api/1/routers/lounge/data/system_board", token, nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(rr.Body.String()).To(MatchJSON(`{"response":{"hostname":"OpenWrt","model":"Linksys E8450"}}`))
		})

		It("returns not found for unconfigured routers", func() {
			admin, err := verifier.Mint("test-admin", []string{"*"}, time.Hour)
			Expect(err).NotTo(HaveOccurred())
			rr := sendRequest(http.MethodGet, "/api/1/routers/cellar/data/system_board", admin, nil)
			Expect(rr.Code).To(Equal(http.StatusNotFound))
			Expect(errorLabel(rr)).To(Equal("unknown_router"))
		})

		It("passes max_age through to the coordinator", func() {
			target.EXPECT().GetWithMaxAge(gomock.Any(), registry.SystemInfo, 5*time.Second).
				Return(map[string]interface{}{"uptime": 12}, nil)
			rr := sendRequest(http.MethodGet, "/api/1/routers/lounge/data/system_info?max_age=5s", token, nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
		})

		It("treats max_age=0 as a forced refresh", func() {
			target.EXPECT().GetWithMaxAge(gomock.Any(), registry.SystemInfo, time.Duration(0)).
				Return(map[string]interface{}{"uptime": 12}, nil)
			rr := sendRequest(http.MethodGet, "/api/1/routers/lounge/data/system_info?max_age=0s", token, nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
		})

		It("rejects malformed max_age values", func() {
			rr := sendRequest(http.MethodGet, "/api/1/routers/lounge/data/system_info?max_age=fast", token, nil)
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
			Expect(errorLabel(rr)).To(Equal("invalid_max_age"))
		})

		It("maps unknown keys to not found", func() {
			target.EXPECT().Get(gomock.Any(), registry.DataKey("nonsense")).
				Return(nil, &protocol.UnknownKeyError{Key: "nonsense"})
			rr := sendRequest(http.MethodGet, "/api/1/routers/lounge/data/nonsense", token, nil)
			Expect(rr.Code).To(Equal(http.StatusNotFound))
			Expect(errorLabel(rr)).To(Equal("unknown_key"))
		})

		It("maps stale data to service unavailable", func() {
			staleErr := &protocol.StaleDataError{
				Key:     string(registry.SystemBoard),
				Age:     10 * time.Minute,
				LastErr: &protocol.NetworkError{Err: errors.New("connection refused")},
			}
			target.EXPECT().Get(gomock.Any(), registry.SystemBoard).Return(nil, staleErr)
			rr := sendRequest(http.MethodGet, "/api/1/routers/lounge/data/system_board", token, nil)
			Expect(rr.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(errorLabel(rr)).To(Equal("stale_data"))
		})

		It("maps waiter timeouts to gateway timeout", func() {
			timeoutErr := &protocol.TimeoutError{Key: string(registry.SystemBoard), Err: context.DeadlineExceeded}
			target.EXPECT().Get(gomock.Any(), registry.SystemBoard).Return(nil, timeoutErr)
			rr := sendRequest(http.MethodGet, "/api/1/routers/lounge/data/system_board", token, nil)
			Expect(rr.Code).To(Equal(http.StatusGatewayTimeout))
			Expect(errorLabel(rr)).To(Equal("timeout"))
		})

		It("maps device credential failures to bad gateway", func() {
			authErr := &protocol.AuthError{Err: errors.New("login rejected")}
			target.EXPECT().Get(gomock.Any(), registry.SystemBoard).Return(nil, authErr)
			rr := sendRequest(http.MethodGet, "/api/1/routers/lounge/data/system_board", token, nil)
			Expect(rr.Code).To(Equal(http.StatusBadGateway))
			Expect(errorLabel(rr)).To(Equal("device_authentication"))
		})

		It("maps permission failures to forbidden", func() {
			callErr := &protocol.CallError{Object: "file", Method: "read", Status: protocol.StatusPermissionDenied}
			target.EXPECT().Get(gomock.Any(), registry.DataKey("uci_dhcp")).Return(nil, callErr)
			rr := sendRequest(http.MethodGet, "/api/1/routers/lounge/data/uci_dhcp", token, nil)
			Expect(rr.Code).To(Equal(http.StatusForbidden))
			Expect(errorLabel(rr)).To(Equal("permission_denied"))
		})
	})

	Describe("combined reads", func() {
		It("reports each key's outcome independently", func() {
			target.EXPECT().GetCombined(gomock.Any(), registry.SystemBoard, registry.ModemInfo).
				Return(map[registry.DataKey]coordinator.Outcome{
					registry.SystemBoard: {Value: map[string]interface{}{"hostname": "OpenWrt"}},
					registry.ModemInfo:   {Err: &protocol.CallError{Object: "qmodem", Method: "info", Status: protocol.StatusNotFound}},
				})

			body := []byte(`{"keys": ["system_board", "qmodem_info"]}`)
			rr := sendRequest(http.MethodPost, "/api/1/routers/lounge/data", token, body)
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(rr.Body.String()).To(MatchJSON(`{
				"response": {
					"system_board": {"value": {"hostname": "OpenWrt"}},
					"qmodem_info": {"error": "not_found", "error_description": "qmodem info: not found"}
				}
			}`))
		})

		It("rejects requests naming no keys", func() {
			rr := sendRequest(http.MethodPost, "/api/1/routers/lounge/data", token, []byte(`{"keys": []}`))
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
			Expect(errorLabel(rr)).To(Equal("missing_keys"))
		})

		It("rejects malformed bodies", func() {
			rr := sendRequest(http.MethodPost, "/api/1/routers/lounge/data", token, []byte(`{"keys": [`))
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
			Expect(errorLabel(rr)).To(Equal("malformed_request"))
		})

		It("caps the number of keys per request", func() {
			request := struct {
				Keys []string `json:"keys"`
			}{}
			for i := 0; i < 33; i++ {
				request.Keys = append(request.Keys, string(registry.FileReadKey("/tmp/file")))
			}
			body, err := json.Marshal(&request)
			Expect(err).NotTo(HaveOccurred())
			rr := sendRequest(http.MethodPost, "/api/1/routers/lounge/data", token, body)
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
			Expect(errorLabel(rr)).To(Equal("too_many_keys"))
		})
	})

	Describe("actions", func() {
		It("executes a kick with the requested parameters", func() {
			var got registry.Action
			target.EXPECT().Execute(gomock.Any(), gomock.Any()).DoAndReturn(
				func(ctx context.Context, act registry.Action) (json.RawMessage, error) {
					got = act
					return json.RawMessage(`{}`), nil
				})

			body := []byte(`{"mac": "AA:BB:CC:DD:EE:01", "interface": "hostapd.wlan0", "ban_time": "30s"}`)
			rr := sendRequest(http.MethodPost, "/api/1/routers/lounge/actions/kick", token, body)
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(rr.Body.String()).To(MatchJSON(`{"response":{"result":true,"output":{}}}`))

			Expect(got.Object).To(Equal("hostapd.wlan0"))
			Expect(got.Method).To(Equal("del_client"))
			Expect(got.Params).To(HaveKeyWithValue("addr", "AA:BB:CC:DD:EE:01"))
			Expect(got.Params).To(HaveKeyWithValue("ban_time", 30000))
			Expect(got.Idempotent).To(BeFalse())
			Expect(got.Invalidates).To(ContainElements(
				registry.HostapdClientsKey("hostapd.wlan0"),
				registry.StationListKey("wlan0"),
			))
		})

		It("rejects a kick without a target station", func() {
			body := []byte(`{"interface": "hostapd.wlan0"}`)
			rr := sendRequest(http.MethodPost, "/api/1/routers/lounge/actions/kick", token, body)
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
			Expect(errorLabel(rr)).To(Equal("invalid_action"))
		})

		It("rejects malformed ban times", func() {
			body := []byte(`{"mac": "AA:BB:CC:DD:EE:01", "interface": "hostapd.wlan0", "ban_time": "forever"}`)
			rr := sendRequest(http.MethodPost, "/api/1/routers/lounge/actions/kick", token, body)
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
		})

		It("executes a reboot without a body", func() {
			target.EXPECT().Execute(gomock.Any(), gomock.Any()).DoAndReturn(
				func(ctx context.Context, act registry.Action) (json.RawMessage, error) {
					Expect(act.Name).To(Equal("reboot"))
					Expect(act.Idempotent).To(BeFalse())
					return nil, nil
				})
			rr := sendRequest(http.MethodPost, "/api/1/routers/lounge/actions/reboot", token, nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(rr.Body.String()).To(MatchJSON(`{"response":{"result":true}}`))
		})

		It("executes service operations", func() {
			target.EXPECT().Execute(gomock.Any(), gomock.Any()).DoAndReturn(
				func(ctx context.Context, act registry.Action) (json.RawMessage, error) {
					Expect(act.Name).To(Equal("restart_service"))
					Expect(act.Object).To(Equal("rc"))
					Expect(act.Params).To(HaveKeyWithValue("name", "dnsmasq"))
					Expect(act.Params).To(HaveKeyWithValue("action", "restart"))
					return json.RawMessage(`{}`), nil
				})
			body := []byte(`{"service": "dnsmasq"}`)
			rr := sendRequest(http.MethodPost, "/api/1/routers/lounge/actions/restart_service", token, body)
			Expect(rr.Code).To(Equal(http.StatusOK))
		})

		It("rejects service operations without a service name", func() {
			rr := sendRequest(http.MethodPost, "/api/1/routers/lounge/actions/restart_service", token, []byte(`{}`))
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects unknown actions", func() {
			rr := sendRequest(http.MethodPost, "/api/1/routers/lounge/actions/self_destruct", token, nil)
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
			Expect(errorLabel(rr)).To(Equal("invalid_action"))
		})

		It("surfaces device refusals", func() {
			callErr := &protocol.CallError{Object: "system", Method: "reboot", Status: protocol.StatusPermissionDenied}
			target.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(nil, callErr)
			rr := sendRequest(http.MethodPost, "/api/1/routers/lounge/actions/reboot", token, nil)
			Expect(rr.Code).To(Equal(http.StatusForbidden))
			Expect(errorLabel(rr)).To(Equal("permission_denied"))
		})

		It("surfaces transport failures", func() {
			netErr := &protocol.NetworkError{Err: errors.New("connection reset"), Sent: true}
			target.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(nil, netErr)
			rr := sendRequest(http.MethodPost, "/api/1/routers/lounge/actions/reboot", token, nil)
			Expect(rr.Code).To(Equal(http.StatusBadGateway))
			Expect(errorLabel(rr)).To(Equal("device_unreachable"))
		})

		It("serializes actions addressed to the same router", func() {
			entered := make(chan struct{})
			release := make(chan struct{})
			target.EXPECT().Execute(gomock.Any(), gomock.Any()).DoAndReturn(
				func(ctx context.Context, act registry.Action) (json.RawMessage, error) {
					close(entered)
					<-release
					return nil, nil
				})
			target.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(nil, nil)

			first := make(chan *httptest.ResponseRecorder, 1)
			go func() {
				defer GinkgoRecover()
				first <- sendRequest(http.MethodPost, "/api/1/routers/lounge/actions/reboot", token, nil)
			}()
			<-entered

			second := make(chan *httptest.ResponseRecorder, 1)
			go func() {
				defer GinkgoRecover()
				second <- sendRequest(http.MethodPost, "/api/1/routers/lounge/actions/reboot", token, nil)
			}()
			Consistently(second, 50*time.Millisecond).ShouldNot(Receive())

			close(release)
			Eventually(first, time.Second).Should(Receive())
			Eventually(second, time.Second).Should(Receive())
		})
	})
})
