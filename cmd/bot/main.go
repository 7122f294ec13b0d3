package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"tileworld/internal/client"
	"tileworld/internal/config"
	"tileworld/internal/game"
	"tileworld/internal/protocol"
)

func main() {
	_ = godotenv.Load(".env")

	var (
		url      = flag.String("url", "ws://localhost:3000/ws", "game websocket url")
		name     = flag.String("name", "bot", "player name prefix")
		count    = flag.Int("n", 1, "number of bots")
		catalogF = flag.String("catalog", os.Getenv("CATALOG_PATH"), "YAML catalog (must match the server)")
		duration = flag.Duration("for", 0, "stop after this long (0 = until interrupted)")
	)
	flag.Parse()

	catalog := config.DefaultCatalog()
	if *catalogF != "" {
		c, err := config.LoadCatalog(*catalogF)
		if err != nil {
			log.Fatalf("catalog: %v", err)
		}
		catalog = c
	}

	stop := make(chan struct{})
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt)
		if *duration > 0 {
			select {
			case <-sig:
			case <-time.After(*duration):
			}
		} else {
			<-sig
		}
		close(stop)
	}()

	var wg sync.WaitGroup
	for i := 0; i < *count; i++ {
		botName := *name
		if *count > 1 {
			botName = fmt.Sprintf("%s-%d", *name, i+1)
		}
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			b := &bot{
				name:    botName,
				logger:  log.New(os.Stdout, "["+botName+"] ", log.LstdFlags|log.Lmicroseconds),
				mirror:  client.NewMirror(catalog),
				rng:     rand.New(rand.NewSource(seed)),
				dir:     1,
				welcome: make(chan struct{}),
			}
			if err := b.run(*url, stop); err != nil {
				b.logger.Printf("❌ %v", err)
			}
		}(time.Now().UnixNano() + int64(i))
	}
	wg.Wait()
}

type bot struct {
	name   string
	logger *log.Logger
	conn   *websocket.Conn
	mirror *client.Mirror
	rng    *rand.Rand
	dir    int

	welcome  chan struct{}
	once     sync.Once
	readErr  error
	readDone chan struct{}

	digs int
}

func (b *bot) run(url string, stop <-chan struct{}) error {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	b.conn = conn
	defer conn.Close()

	if err := b.send(&protocol.Hello{Version: protocol.ProtocolVersion, Name: b.name}); err != nil {
		return fmt.Errorf("send Hello: %w", err)
	}

	b.readDone = make(chan struct{})
	go b.readLoop()

	select {
	case <-b.welcome:
	case <-b.readDone:
		return b.readErr
	case <-stop:
		return nil
	case <-time.After(10 * time.Second):
		return errors.New("no Welcome within 10s")
	}
	b.logger.Printf("👤 Joined as entity %d (session %s, %d TPS)", b.mirror.EntityID, b.mirror.SessionID, b.mirror.TickRate)

	ticker := time.NewTicker(time.Second / time.Duration(b.mirror.TickRate))
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			b.logger.Printf("👋 Leaving after %d digs", b.digs)
			return nil
		case <-b.readDone:
			return b.readErr
		case <-ticker.C:
			if err := b.step(); err != nil {
				return err
			}
		}
	}
}

func (b *bot) readLoop() {
	defer close(b.readDone)
	for {
		_, frame, err := b.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				b.readErr = fmt.Errorf("read: %w", err)
			}
			return
		}
		msg, err := protocol.Decode(frame)
		if err != nil {
			b.logger.Printf("⚠️ Bad frame: %v", err)
			continue
		}
		if err := b.mirror.Apply(msg); err != nil {
			if errors.Is(err, client.ErrRejected) {
				b.readErr = err
				return
			}
			b.logger.Printf("⚠️ %v", err)
			continue
		}
		switch v := msg.(type) {
		case *protocol.Welcome:
			b.once.Do(func() { close(b.welcome) })
		case *protocol.SingleBlockChanged:
			b.logger.Printf("⛏️ Block (%d,%d) is now %d", v.X, v.Y, v.Block)
		}
	}
}

// step runs once per server tick: send due finish claims, then either
// start a new dig or move.
func (b *bot) step() error {
	for _, pos := range b.mirror.Advance() {
		if err := b.send(&protocol.BlockDigFinish{X: pos.X, Y: pos.Y}); err != nil {
			return err
		}
	}
	if b.mirror.PendingDigs() > 0 {
		return nil
	}

	bs := b.mirror.BlockSize
	x, y := b.mirror.Position()
	col := int(math.Floor(x / bs))
	feet := int(math.Floor(y/bs + game.PlayerHeightBlocks + 1e-6))

	// Fall into the hole we just dug
	if blk, ok := b.mirror.BlockAt(col, feet); ok && blk.Empty() {
		return b.moveTo(x, y+bs)
	}

	targets := []game.BlockPos{
		{X: col, Y: feet},
		{X: col + b.dir, Y: feet - 1},
	}
	if b.rng.Intn(3) == 0 {
		targets[0], targets[1] = targets[1], targets[0]
	}
	for _, t := range targets {
		if b.mirror.BeginDig(t.X, t.Y) {
			b.digs++
			return b.send(&protocol.BlockDigBegin{X: t.X, Y: t.Y})
		}
	}

	// Nothing diggable: wander
	if b.rng.Intn(20) == 0 {
		b.dir = -b.dir
	}
	return b.moveTo(x+float64(b.dir)*bs, y)
}

func (b *bot) moveTo(x, y float64) error {
	b.mirror.SetPosition(x, y)
	return b.send(&protocol.PlayerMoved{X: x, Y: y})
}

func (b *bot) send(msg protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	b.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return b.conn.WriteMessage(websocket.BinaryMessage, frame)
}
