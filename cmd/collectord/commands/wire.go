package commands

import (
	"context"
	"time"

	"gridharvest/lib/auth"
	"gridharvest/lib/browser/webdriver"
	"gridharvest/lib/captcha"
	"gridharvest/lib/checkpoint"
	"gridharvest/lib/portal"
	"gridharvest/lib/procutil"
	"gridharvest/lib/session"
	"gridharvest/lib/sink"
	"gridharvest/lib/transcribe"
	"gridharvest/services/collector"

	"github.com/go-resty/resty/v2"
)

// runtime bundles the wired service with the handles whose teardown
// matters.
type runtime struct {
	svc    *collector.Service
	auth   auth.Controller
	client *portal.Client
	driver *webdriver.Client
	mqtt   *sink.MQTTSink
}

func mustBuild(cfg Config) *runtime {
	client, err := portal.NewClient(portal.Options{
		BaseUrl:  cfg.Portal.BaseUrl,
		FuelType: cfg.Portal.FuelType,
	})
	if err != nil {
		procutil.Fatal("failed to build portal client", err)
	}

	driver := webdriver.New(webdriver.Options{RemoteUrl: cfg.Webdriver.Url})

	controller := auth.Controller{
		Driver: driver,
		Solver: captcha.Solver{
			Audio:       captcha.NewAudioFetcher(resty.New().SetTimeout(time.Second * 30)),
			Transcoder:  transcribe.FFmpeg{},
			Transcriber: transcribe.NewHTTPTranscriber(cfg.Transcriber.Url),
		},
		Challenges:  captcha.RecaptchaFlow{Driver: driver},
		Store:       session.NewFileStore(cfg.SessionFile),
		Validator:   client,
		Credentials: cfg.Credentials,
		LoginUrl:    cfg.Portal.LoginUrl,
		LandingUrl:  client.UsageHistoryURL(),
	}

	checkpoints, err := checkpoint.Open(cfg.CheckpointDb)
	if err != nil {
		procutil.Fatal("failed to open checkpoint database", err)
	}

	var mqttSink *sink.MQTTSink
	var secondaries []sink.Sink
	if cfg.Mqtt != nil {
		mqttSink, err = sink.NewMQTTSink(*cfg.Mqtt)
		if err != nil {
			procutil.Fatal("failed to connect to mqtt broker", err)
		}
		secondaries = append(secondaries, mqttSink)
	}

	svc, err := collector.NewService(
		controller,
		client,
		checkpoints,
		sink.CSVSink{Dir: cfg.DataDir},
		secondaries,
	)
	if err != nil {
		procutil.Fatal("failed to build collector", err)
	}
	svc.WindowDays = cfg.Poll.DefaultWindowDays

	return &runtime{
		svc:    svc,
		auth:   controller,
		client: client,
		driver: driver,
		mqtt:   mqttSink,
	}
}

func (r *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	r.driver.Close(ctx)
	if r.mqtt != nil {
		r.mqtt.Close()
	}
}
