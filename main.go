package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.neose-dvs-calibration.gocv-driver/dvsdriver"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	params, err := dvsdriver.ParametersFromEnv()
	if err != nil {
		dvsdriver.Logger.Fatal().Err(err).Msg("Loading calibration parameters")
	}

	client, err := dvsdriver.NewMQTTClient()
	if err != nil {
		dvsdriver.Logger.Fatal().Err(err).Msg("Connecting to MQTT")
	}
	defer client.Disconnect(250)

	publisher := dvsdriver.NewMQTTPublisher(client)
	session := dvsdriver.NewSession(params, dvsdriver.RealClock{}, dvsdriver.HomographySolver{}, publisher)
	visualization := dvsdriver.NewVisualizationPublisher(publisher, dvsdriver.VISUALIZATION_PUBLISH_INTERVAL)
	session.SetVisualizationHook(visualization.Hook)

	if err := dvsdriver.SetupMQTTSubscriptionCallbacks(dvsdriver.NewRouter(session), client); err != nil {
		dvsdriver.Logger.Fatal().Err(err).Msg("Subscribing to MQTT topics")
	}

	if dvsdriver.CAMERA_DRIVER_CMD != "" {
		for cameraID := 0; cameraID < session.NumCameras(); cameraID++ {
			cmd, out, err := dvsdriver.StartEventCamera(ctx, dvsdriver.CAMERA_DRIVER_CMD, cameraID)
			if err != nil {
				dvsdriver.Logger.Fatal().Err(err).Msg("Starting event camera")
			}
			go func(cameraID int) {
				if err := dvsdriver.EventLoop(ctx, session, cameraID, out); err != nil && ctx.Err() == nil {
					dvsdriver.Logger.Error().Int("camera", cameraID).Err(err).Msg("Event loop stopped")
				}
				_ = cmd.Wait()
			}(cameraID)
		}
	}

	dvsdriver.Logger.Info().Int("cameras", session.NumCameras()).Str("session", session.ID().String()).Msg("DVS calibration running")
	<-ctx.Done()
}
