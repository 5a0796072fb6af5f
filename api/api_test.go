package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gofiber/fiber/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/reminisce/pkg/memory"
	"github.com/papercomputeco/reminisce/pkg/metrics"
	"github.com/papercomputeco/reminisce/pkg/reminisce"
	"github.com/papercomputeco/reminisce/pkg/storage/inmemory"
	"github.com/papercomputeco/reminisce/pkg/storage/storagetest"
)

// envelope is the wire form of a service result.
type envelope struct {
	Success bool             `json:"success"`
	Data    json.RawMessage  `json:"data"`
	Error   *reminisce.Error `json:"error"`
}

var _ = Describe("Server", func() {
	var (
		server *Server
		stack  *reminisce.Stack
		driver *inmemory.Driver
	)

	BeforeEach(func() {
		clock := storagetest.NewFakeClock()
		driver = inmemory.NewDriver()
		driver.Clock = clock.Now

		collector := metrics.NewCollector("")

		var err error
		stack, err = reminisce.NewStack(driver, reminisce.Options{Clock: clock.Now, Metrics: collector})
		Expect(err).NotTo(HaveOccurred())

		logger, _ := zap.NewDevelopment()
		server, err = NewServer(Config{ListenAddr: ":0", MetricsHandler: collector.Handler()}, stack.Service, logger)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		stack.Stop()
	})

	do := func(method, path string, body any) (int, envelope) {
		var reader io.Reader
		if body != nil {
			raw, ok := body.(string)
			if !ok {
				b, err := json.Marshal(body)
				Expect(err).NotTo(HaveOccurred())
				raw = string(b)
			}
			reader = bytes.NewReader([]byte(raw))
		}

		req, err := http.NewRequest(method, path, reader)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", "application/json")

		resp, err := server.app.Test(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		var env envelope
		respBody, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(respBody, &env)).To(Succeed())
		return resp.StatusCode, env
	}

	learn := func(body any) *memory.Unit {
		status, env := do(http.MethodPost, "/v1/learn", body)
		Expect(status).To(Equal(fiber.StatusCreated))
		var u memory.Unit
		Expect(json.Unmarshal(env.Data, &u)).To(Succeed())
		return &u
	}

	It("requires a service", func() {
		_, err := NewServer(Config{}, nil, nil)
		Expect(err).To(MatchError(ContainSubstring("service is required")))
	})

	Describe("POST /v1/learn and /v1/recall", func() {
		It("stores a memory and recalls it by pattern", func() {
			u := learn(map[string]any{
				"pattern":    map[string]any{"type": "estimate_time"},
				"result":     map[string]any{"minutes": 12},
				"importance": 0.6,
			})
			Expect(u.ID).NotTo(BeEmpty())
			Expect(u.Importance).To(Equal(0.6))

			status, env := do(http.MethodPost, "/v1/recall", map[string]any{
				"pattern": map[string]any{"type": "estimate_time"},
			})
			Expect(status).To(Equal(fiber.StatusOK))
			Expect(env.Success).To(BeTrue())

			var hits []*memory.Unit
			Expect(json.Unmarshal(env.Data, &hits)).To(Succeed())
			Expect(hits).To(HaveLen(1))
			Expect(hits[0].ID).To(Equal(u.ID))
			Expect(hits[0].AccessCount).To(Equal(int64(1)))
		})

		It("returns an empty list on a miss", func() {
			status, env := do(http.MethodPost, "/v1/recall", map[string]any{"fingerprint": "nothing"})
			Expect(status).To(Equal(fiber.StatusOK))
			Expect(string(env.Data)).To(Equal("[]"))
		})

		It("maps validation failures to 400", func() {
			status, env := do(http.MethodPost, "/v1/learn", map[string]any{"result": 1})
			Expect(status).To(Equal(fiber.StatusBadRequest))
			Expect(env.Error.Kind).To(Equal(reminisce.KindValidation))

			status, env = do(http.MethodPost, "/v1/recall", `{"pattern":`)
			Expect(status).To(Equal(fiber.StatusBadRequest))
			Expect(env.Success).To(BeFalse())
		})
	})

	Describe("memories", func() {
		var u *memory.Unit

		BeforeEach(func() {
			u = learn(map[string]any{
				"pattern": map[string]any{"type": "get_schedule"},
				"result":  []string{"standup"},
			})
		})

		It("manages, fetches and forgets a memory", func() {
			status, env := do(http.MethodPost, "/v1/manage", map[string]any{
				"memoryId": u.ID, "action": "change_tier", "value": "medium",
			})
			Expect(status).To(Equal(fiber.StatusOK))
			Expect(env.Success).To(BeTrue())

			status, env = do(http.MethodGet, "/v1/memories/"+u.ID, nil)
			Expect(status).To(Equal(fiber.StatusOK))
			var got memory.Unit
			Expect(json.Unmarshal(env.Data, &got)).To(Succeed())
			Expect(got.Tier).To(Equal(memory.TierMedium))

			status, _ = do(http.MethodDelete, "/v1/memories/"+u.ID, nil)
			Expect(status).To(Equal(fiber.StatusOK))

			status, env = do(http.MethodGet, "/v1/memories/"+u.ID, nil)
			Expect(status).To(Equal(fiber.StatusNotFound))
			Expect(env.Error.Kind).To(Equal(reminisce.KindNotFound))
		})

		It("rejects illegal tier changes", func() {
			status, env := do(http.MethodPost, "/v1/manage", map[string]any{
				"memoryId": u.ID, "action": "change_tier", "value": "long",
			})
			Expect(status).To(Equal(fiber.StatusBadRequest))
			Expect(env.Error.Message).To(ContainSubstring("cannot move"))
		})

		It("walks related memories", func() {
			other := learn(map[string]any{
				"pattern":         map[string]any{"type": "get_contact"},
				"result":          map[string]any{"id": "c1"},
				"relatedMemories": []string{u.ID},
			})

			status, env := do(http.MethodGet, "/v1/memories/"+u.ID+"/related?depth=2", nil)
			Expect(status).To(Equal(fiber.StatusOK))
			var related []*memory.Unit
			Expect(json.Unmarshal(env.Data, &related)).To(Succeed())
			Expect(related).To(HaveLen(1))
			Expect(related[0].ID).To(Equal(other.ID))

			status, _ = do(http.MethodGet, "/v1/memories/"+u.ID+"/related?depth=9", nil)
			Expect(status).To(Equal(fiber.StatusBadRequest))
		})
	})

	Describe("POST /v1/events", func() {
		It("expires memories of a deleted entity", func() {
			u := learn(map[string]any{
				"pattern":  map[string]any{"type": "get_contact"},
				"result":   map[string]any{"name": "Ada"},
				"entities": []map[string]any{{"entityType": "contact", "entityId": "c1"}},
			})

			status, env := do(http.MethodPost, "/v1/events", map[string]any{
				"entityType": "contact", "entityId": "c1", "eventType": "deleted",
			})
			Expect(status).To(Equal(fiber.StatusOK))
			Expect(string(env.Data)).To(ContainSubstring(`"affected":1`))

			stored, err := driver.Get(context.Background(), u.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Confidence).To(BeZero())
		})

		It("rejects events without an entity type", func() {
			status, env := do(http.MethodPost, "/v1/events", map[string]any{"eventType": "deleted"})
			Expect(status).To(Equal(fiber.StatusBadRequest))
			Expect(env.Error.Kind).To(Equal(reminisce.KindValidation))
		})
	})

	Describe("query contexts", func() {
		It("runs a context through its lifecycle", func() {
			status, env := do(http.MethodPost, "/v1/contexts", nil)
			Expect(status).To(Equal(fiber.StatusCreated))
			var created reminisce.ContextCreated
			Expect(json.Unmarshal(env.Data, &created)).To(Succeed())

			base := "/v1/contexts/" + created.ContextID
			status, _ = do(http.MethodPost, base+"/steps", map[string]any{
				"toolName": "search_items",
				"params":   map[string]any{"query": "passport", "room": "study"},
			})
			Expect(status).To(Equal(fiber.StatusOK))

			status, env = do(http.MethodGet, base+"/compound", nil)
			Expect(status).To(Equal(fiber.StatusOK))
			var cs reminisce.CompoundStatus
			Expect(json.Unmarshal(env.Data, &cs)).To(Succeed())
			Expect(cs.Steps).To(Equal(1))
			Expect(cs.IsCompound).To(BeFalse())

			status, _ = do(http.MethodPost, base+"/complete", nil)
			Expect(status).To(Equal(fiber.StatusOK))

			status, _ = do(http.MethodPost, base+"/steps", map[string]any{"toolName": "get_item"})
			Expect(status).To(Equal(fiber.StatusNotFound))
		})

		It("reports unknown contexts", func() {
			status, env := do(http.MethodGet, "/v1/contexts/missing", nil)
			Expect(status).To(Equal(fiber.StatusNotFound))
			Expect(env.Error.Kind).To(Equal(reminisce.KindNotFound))
		})
	})

	Describe("tool calls", func() {
		It("misses, remembers and hits", func() {
			call := map[string]any{
				"toolName": "plan_route",
				"params":   map[string]any{"origin": "Home", "destination": "Office"},
			}

			_, env := do(http.MethodPost, "/v1/toolcalls/lookup", call)
			var lookup reminisce.Lookup
			Expect(json.Unmarshal(env.Data, &lookup)).To(Succeed())
			Expect(lookup.Hit).To(BeFalse())

			call["result"] = map[string]any{"steps": 3}
			status, env := do(http.MethodPost, "/v1/toolcalls/remember", call)
			Expect(status).To(Equal(fiber.StatusOK))
			var remembered reminisce.Remembered
			Expect(json.Unmarshal(env.Data, &remembered)).To(Succeed())
			Expect(remembered.Stored).To(BeTrue())

			delete(call, "result")
			_, env = do(http.MethodPost, "/v1/toolcalls/lookup", call)
			Expect(json.Unmarshal(env.Data, &lookup)).To(Succeed())
			Expect(lookup.Hit).To(BeTrue())
			Expect(string(lookup.Memory.Result)).To(MatchJSON(`{"steps":3}`))
		})
	})

	Describe("GET /v1/stats", func() {
		It("returns detailed statistics on request", func() {
			learn(map[string]any{"pattern": map[string]any{"type": "a"}, "result": 1})

			status, env := do(http.MethodGet, "/v1/stats?detailed=true", nil)
			Expect(status).To(Equal(fiber.StatusOK))
			var st reminisce.Stats
			Expect(json.Unmarshal(env.Data, &st)).To(Succeed())
			Expect(st.Total).To(Equal(1))
			Expect(st.UsageTrend).To(HaveLen(7))
			Expect(st.RecentMemories).To(HaveLen(1))
		})
	})

	It("serves prometheus metrics", func() {
		req, err := http.NewRequest(http.MethodGet, "/metrics", nil)
		Expect(err).NotTo(HaveOccurred())

		resp, err := server.app.Test(req)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(ContainSubstring("go_goroutines"))
	})
})
