package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/craigcoenttec/assistbridge/internal/config"
	"github.com/craigcoenttec/assistbridge/internal/messages"
	"github.com/craigcoenttec/assistbridge/internal/platform"
	"github.com/craigcoenttec/assistbridge/internal/registry"
	"github.com/craigcoenttec/assistbridge/internal/router"
	"github.com/craigcoenttec/assistbridge/internal/sequence"
	"github.com/craigcoenttec/assistbridge/internal/transport"
	"github.com/craigcoenttec/assistbridge/internal/types"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string
	var verbose bool

	cmd := &cobra.Command{
		Use:           "assistbridge",
		Short:         "Bridges contact center events into an agent assist panel",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile, verbose)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "path to YAML config file")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	return cmd
}

func run(configFile string, verbose bool) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	log := logrus.NewEntry(logger)

	if configFile != "" {
		os.Setenv(config.EnvConfigFile, configFile)
	}
	cfg, err := config.FromYAMLAndEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cloud *platform.Client
	if cfg.CloudAccessToken != "" && cfg.CloudRegion != "" {
		cloud = platform.NewClient(log.WithField("component", "platform"), cfg.CloudRegion, cfg.CloudAccessToken)
	}

	reg := registry.New(log.WithField("component", "registry"), registry.Observers{
		OnActiveChanged: func(conversationID string) {
			log.WithField("conversation_id", conversationID).Info("active conversation changed")
		},
	})

	// The router is built after its collaborators but the tracker needs its
	// session state, so those reads are late-bound.
	var rtr *router.Router

	trackerCfg := messages.Config{
		Logger:               log.WithField("component", "messages"),
		ActiveConversationID: func() string { return rtr.CurrentConversationID() },
		Authenticated:        func() bool { return rtr.Authenticated() },
		AutoForward:          func() bool { return rtr.Settings().AutoForwardMessages },
		FilterWorkflow:       func() bool { return rtr.Settings().FilterWorkflowMessages },
		Callbacks: messages.Callbacks{
			OnTracked: func(m messages.TrackedMessage) {
				log.WithFields(logrus.Fields{
					"message_id": m.MessageID,
					"purpose":    m.ParticipantPurpose,
				}).Debug("message tracked")
			},
			Forward: func(conversationID, text string, speaker types.Speaker) {
				rtr.AnalyzeContent(conversationID, text, speaker)
			},
			Wrap: func(conversationID string) {
				rtr.WrapConversation(conversationID)
			},
		},
	}
	if cloud != nil {
		trackerCfg.Lookup = cloud
	}
	tracker := messages.New(trackerCfg)

	transportLog := log.WithField("component", "transport")
	notifySocket := transport.NewNotificationSocket(transportLog,
		func(frame types.NotificationFrame) { rtr.HandleNotification(ctx, frame) },
		statusLogger(log, "notifications"))
	panel := transport.NewPanel(transportLog, cfg.TargetOrigin,
		func(env types.Envelope) { rtr.HandleEnvelope(ctx, env) },
		statusLogger(log, "panel"))
	audiohook := transport.NewAudiohook(transportLog,
		func(frame types.AudiohookFrame) { rtr.HandleAudiohookFrame(frame) },
		statusLogger(log, "audiohook"))
	audiohook.SetFallbackTarget(func() string { return rtr.ContactCenterConversationID() })

	routerCfg := router.Config{
		Logger:        log.WithField("component", "router"),
		Panel:         panel,
		Notifications: notifySocket,
		Registry:      reg,
		Tracker:       tracker,
		Region:        cfg.CloudRegion,
		Settings: router.Settings{
			AutoForwardTranscription: cfg.AutoForwardTranscription,
			AutoForwardAudiohook:     cfg.AutoForwardAudiohook,
			AutoForwardMessages:      cfg.AutoForwardMessages,
			FilterWorkflowMessages:   cfg.FilterWorkflowMessages,
			AutoHandleIncomingCalls:  cfg.AutoHandleIncomingCalls,
		},
		Callbacks: router.Callbacks{
			ConversationIDChanged: func(conversationID string) {
				log.WithField("conversation_id", conversationID).Info("assist conversation changed")
			},
			AuthStatusChanged: func(status string) {
				log.WithField("status", status).Info("cloud auth status")
			},
			Transcript: func(tr router.Transcript) {
				log.WithFields(logrus.Fields{
					"speaker":   tr.Speaker,
					"utterance": tr.Utterance,
				}).Debug("transcript")
			},
			LogFrame: func(frame types.NotificationFrame) {
				log.WithField("topic", frame.TopicName).Debug("unhandled notification")
			},
		},
	}
	if cloud != nil {
		routerCfg.Cloud = cloud
	}
	rtr = router.New(routerCfg)

	seq := sequence.New(log.WithField("component", "sequence"), rtr, cfg.ConversationProfileID,
		func() bool { return rtr.Settings().AutoHandleIncomingCalls })
	reg.SetConnectedHook(func(conv registry.Conversation) {
		seq.Trigger(ctx, conv)
	})

	go rtr.Run(ctx)

	if err := panel.Connect(cfg.PanelURL); err != nil {
		log.WithError(err).Warn("panel connect failed, adapter will retry")
	}
	rtr.Authorize(cfg.CloudClientID, "")

	if cfg.AudiohookURL != "" {
		if err := audiohook.Connect(cfg.AudiohookURL, ""); err != nil {
			log.WithError(err).Warn("audiohook connect failed, adapter will retry")
		}
	}

	if cloud != nil {
		if err := rtr.Login(ctx); err != nil {
			log.WithError(err).Warn("cloud login failed, notifications disabled")
		} else {
			userID := rtr.UserID()
			if err := rtr.ConnectCallNotifications(ctx, userID); err != nil {
				log.WithError(err).Warn("call notifications unavailable")
			}
			if err := rtr.ConnectMessageNotifications(ctx, userID); err != nil {
				log.WithError(err).Warn("message notifications unavailable")
			}
		}
	}

	log.Info("assistbridge running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	cancel()
	rtr.DisconnectTranscription()
	rtr.DisconnectCallNotifications()
	rtr.DisconnectMessageNotifications()
	audiohook.Disconnect(true)
	panel.Disconnect(true)
	return nil
}

func statusLogger(log *logrus.Entry, adapter string) func(transport.Status) {
	return func(status transport.Status) {
		log.WithFields(logrus.Fields{
			"adapter": adapter,
			"status":  status.String(),
		}).Info("connection status")
	}
}
