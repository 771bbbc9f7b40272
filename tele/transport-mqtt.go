package tele

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/svlink/helpers"
	"github.com/temoto/svlink/log2"
	tele_config "github.com/temoto/svlink/tele/config"
)

type transportMqtt struct {
	alive *alive.Alive
	log   *log2.Log
	m     mqtt.Client
	mopt  *mqtt.ClientOptions

	topicPrefix string
	topicState  string
}

func (self *transportMqtt) Init(ctx context.Context, log *log2.Log, teleConfig tele_config.Config, willPayload []byte) error {
	if teleConfig.MqttBroker == "" {
		return errors.NotValidf("tele mqtt_broker=empty")
	}
	self.log = log
	self.alive = alive.NewAlive()

	// paho loggers are package globals
	mqtt.CRITICAL = mqttLogger{log, log2.LError, "CRITICAL tele.mqtt "}
	mqtt.ERROR = mqttLogger{log, log2.LError, "tele.mqtt "}
	mqtt.WARN = mqttLogger{log, log2.LInfo, "tele.mqtt warn "}
	if teleConfig.MqttLogDebug {
		mqtt.DEBUG = mqttLogger{log, log2.LDebug, "tele.mqtt debug "}
	}

	clientID := teleConfig.ClientID
	if clientID == "" {
		clientID = "svlink-" + uuid.New().String()
	}
	self.topicPrefix = strings.TrimSuffix(teleConfig.TopicPrefix, "/")
	if self.topicPrefix == "" {
		self.topicPrefix = DefaultTopicPrefix
	}
	self.topicState = self.topicPrefix + "/state"

	networkTimeout := helpers.IntSecondDefault(teleConfig.NetworkTimeoutSec, DefaultNetworkTimeout)
	if networkTimeout < 1*time.Second {
		networkTimeout = 1 * time.Second
	}
	connectTimeout := networkTimeout * 3
	keepaliveTimeout := helpers.IntSecondDefault(teleConfig.KeepaliveSec, networkTimeout/2)

	credFun := func() (string, string) {
		return teleConfig.Username, teleConfig.Password
	}
	defaultHandler := func(_ mqtt.Client, msg mqtt.Message) {
		self.log.Errorf("tele unexpected mqtt message topic=%s", msg.Topic())
	}
	self.mopt = mqtt.NewClientOptions().
		AddBroker(teleConfig.MqttBroker).
		SetAutoReconnect(true).
		SetBinaryWill(self.topicState, willPayload, 1, true).
		SetCleanSession(false).
		SetClientID(clientID).
		SetConnectTimeout(connectTimeout).
		SetCredentialsProvider(credFun).
		SetDefaultPublishHandler(defaultHandler).
		SetKeepAlive(keepaliveTimeout).
		SetMaxReconnectInterval(connectTimeout).
		SetMessageChannelDepth(1).
		SetOrderMatters(false).
		SetPingTimeout(networkTimeout).
		SetWriteTimeout(networkTimeout)
	self.m = mqtt.NewClient(self.mopt)
	self.log.Debugf("tele mqtt broker=%s client=%s prefix=%s", teleConfig.MqttBroker, clientID, self.topicPrefix)

	self.alive.Add(1)
	go self.online()
	return nil
}

func (self *transportMqtt) Close() {
	self.alive.Stop()
	self.alive.Wait()
	self.m.Disconnect(uint(self.mopt.PingTimeout / time.Millisecond))
}

func (self *transportMqtt) SendState(payload []byte) bool {
	t := self.m.Publish(self.topicState, 1, true, payload)
	err := self.tokenWait(t, "publish state")
	self.log.Debugf("tele sendstate payload=%x err=%v", payload, err)
	return err == nil
}

func (self *transportMqtt) Send(topicSuffix string, payload []byte) bool {
	topic := fmt.Sprintf("%s/%s", self.topicPrefix, topicSuffix)
	t := self.m.Publish(topic, 1, false, payload)
	return self.tokenWait(t, "publish "+topicSuffix) == nil
}

func (self *transportMqtt) online() {
	defer self.alive.Done()
	stopch := self.alive.StopChan()
	for self.alive.IsRunning() && !self.m.IsConnected() {
		t := self.m.Connect()
		if self.tokenWait(t, "connect") == nil {
			self.log.Debugf("tele connected")
			return // success path
		}
		select {
		case <-time.After(1 * time.Second):
		case <-stopch:
		}
	}
}

func (self *transportMqtt) tokenWait(t mqtt.Token, tag string) error {
	if !t.WaitTimeout(self.mopt.ConnectTimeout) {
		err := errors.Errorf("%s timeout", tag)
		self.log.Errorf("tele: MQTT %s", err.Error())
		return err
	}
	if err := t.Error(); err != nil {
		err = errors.Annotate(err, tag)
		self.log.Errorf("tele: MQTT %s", err.Error())
		return err
	}
	return nil
}

// mqttLogger adapts log2 to paho logger interface.
type mqttLogger struct {
	log    *log2.Log
	level  log2.Level
	prefix string
}

func (self mqttLogger) Println(v ...interface{}) {
	self.log.Log(self.level, self.prefix+strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

func (self mqttLogger) Printf(format string, v ...interface{}) {
	self.log.Log(self.level, self.prefix+fmt.Sprintf(format, v...))
}
