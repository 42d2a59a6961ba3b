package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/jmikh/recordio/internal/config"
	"github.com/jmikh/recordio/internal/protocol"
	"github.com/jmikh/recordio/internal/session"
)

var (
	startTarget string
	startMode   string
	startAudio  bool
	startCamera bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config into the workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.DefaultConfig()
		if err := cfg.Save(workspace); err != nil {
			return err
		}
		fmt.Println("Wrote", config.Path(workspace))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon's recording state",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := protocol.MustNew(protocol.TypeQueryState, "", protocol.QueryState{})
		res, err := roundTrip(req)
		if err != nil {
			return err
		}
		var report protocol.StateReport
		if err := res.Decode(&report); err != nil {
			return err
		}
		if !report.IsRecording {
			fmt.Println("idle")
			return nil
		}
		started := time.UnixMilli(report.StartTimeMs)
		fmt.Printf("recording (started %s, %s ago)\n",
			started.Format(time.RFC3339), time.Since(started).Round(time.Second))
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a recording session",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := protocol.MustNew(protocol.TypeStartSession, "", protocol.StartRequest{
			TargetContextID: startTarget,
			Mode:            session.Mode(startMode),
			Devices: session.DeviceSelections{
				AudioEnabled:  startAudio,
				CameraEnabled: startCamera,
			},
		})
		res, err := roundTrip(req)
		if err != nil {
			return err
		}
		var result protocol.StartResult
		if err := res.Decode(&result); err != nil {
			return err
		}
		if result.ErrorCode != "" {
			return fmt.Errorf("%s: %s", result.ErrorCode, result.Reason)
		}
		fmt.Println("session", result.SessionID)
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the active recording session",
	RunE:  func(cmd *cobra.Command, args []string) error { return endSession(protocol.TypeStopSession) },
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the active recording session, discarding its data",
	RunE:  func(cmd *cobra.Command, args []string) error { return endSession(protocol.TypeCancelSession) },
}

func init() {
	startCmd.Flags().StringVar(&startTarget, "target", "", "CDP target id of the page to record (empty for desktop)")
	startCmd.Flags().StringVar(&startMode, "mode", "desktop", "capture mode: tab, window, desktop")
	startCmd.Flags().BoolVar(&startAudio, "audio", false, "capture microphone audio")
	startCmd.Flags().BoolVar(&startCamera, "camera", false, "capture camera video")
}

func endSession(t protocol.Type) error {
	res, err := roundTrip(protocol.MustNew(t, "", nil))
	if err != nil {
		return err
	}
	var result protocol.StopResult
	if err := res.Decode(&result); err != nil {
		return err
	}
	if result.ErrorCode != "" {
		fmt.Printf("ended with %s: %s\n", result.ErrorCode, result.Reason)
	}
	fmt.Printf("duration %s\n", (time.Duration(result.DurationMs) * time.Millisecond).Round(time.Millisecond))
	if result.EditorURL != "" {
		fmt.Println("editor:", result.EditorURL)
	}
	return nil
}

// roundTrip dials the daemon, sends one envelope, and waits for the matching
// reply. Replies are matched on correlation id; unrelated frames are skipped.
func roundTrip(env protocol.Envelope) (protocol.Envelope, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return protocol.Envelope{}, err
	}

	u := url.URL{Scheme: "ws", Host: cfg.Server.ListenAddr, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("dial daemon at %s: %w (is it running?)", u.Host, err)
	}
	defer conn.Close()

	env.CorrelationID = uuid.NewString()
	data, err := json.Marshal(env)
	if err != nil {
		return protocol.Envelope{}, err
	}
	conn.SetWriteDeadline(time.Now().Add(timeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return protocol.Envelope{}, err
	}

	deadline := time.Now().Add(timeout)
	for {
		conn.SetReadDeadline(deadline)
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return protocol.Envelope{}, fmt.Errorf("await reply: %w", err)
		}
		var res protocol.Envelope
		if err := json.Unmarshal(frame, &res); err != nil {
			continue
		}
		if res.CorrelationID == env.CorrelationID {
			return res, nil
		}
	}
}
