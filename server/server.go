package server

import (
	"net"

	"github.com/davecgh/go-spew/spew"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	log "github.com/sirupsen/logrus"

	"github.com/pulsevote/api.pulsevote.dev/broker"
	"github.com/pulsevote/api.pulsevote.dev/configure"
	"github.com/pulsevote/api.pulsevote.dev/poll"
	"github.com/pulsevote/api.pulsevote.dev/redis"
	"github.com/pulsevote/api.pulsevote.dev/utils"
)

type Server struct {
	app *fiber.App
	ln  net.Listener
}

// Deps are the collaborators the http layer is wired with. Cache may be nil;
// every handler falls back to the store.
type Deps struct {
	Store         poll.Store
	Cache         *redis.Cache
	Broker        *broker.Broker
	Ingestor      *poll.Ingestor
	AdminPassword string
}

type customLogger struct{}

func (*customLogger) Write(data []byte) (n int, err error) {
	log.Debugln(utils.B2S(data))
	return len(data), nil
}

func checkErr(err error) {
	if err != nil {
		panic(err)
	}
}

func NewServer(deps Deps) *Server {
	ln, err := net.Listen(configure.Config.GetString("listener_network"), configure.Config.GetString("listener_address"))
	checkErr(err)

	server := &Server{
		ln:  ln,
		app: newApp(deps),
	}

	go func() {
		if err := server.app.Listener(server.ln); err != nil {
			log.Errorf("failed to start http server, err=%v", err)
		}
	}()

	return server
}

// newApp builds the fiber application without binding a listener, so tests
// can drive it through app.Test.
func newApp(deps Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
	})

	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		Output: &customLogger{},
	}))

	r := &routes{deps: deps}
	api := app.Group("/api")
	r.registerPolls(api)
	r.registerVotes(api)
	r.registerAdmin(api)
	r.registerWebsocket(api)

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(404).JSON(&fiber.Map{
			"status":  404,
			"message": "We don't know what you're looking for.",
		})
	})

	return app
}

func errorHandler(c *fiber.Ctx, err error) error {
	log.Errorf("internal err=%v", spew.Sdump(err))

	return c.SendStatus(500)
}

func (s *Server) Shutdown() error {
	return s.ln.Close()
}

type routes struct {
	deps Deps
}
