// Standalone telemetry publisher for exercising the bridge against a live
// broker. Publishes the six sensor variants for a simulated rover fleet.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

func main() {
	broker := flag.String("broker", "tcp://localhost:1883", "MQTT broker address")
	username := flag.String("username", "", "MQTT username")
	password := flag.String("password", "", "MQTT password")
	device := flag.String("device", "rover-1", "device identity")
	interval := flag.Duration("interval", time.Second, "publish interval per reading")
	mode := flag.String("mode", "continuous", "run mode: single, continuous")
	flag.Parse()

	opts := paho.NewClientOptions()
	opts.AddBroker(*broker)
	opts.SetClientID(fmt.Sprintf("bridge-test-pub-%d", time.Now().Unix()))
	if *username != "" {
		opts.SetUsername(*username)
		opts.SetPassword(*password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		fmt.Printf("connection lost: %v\n", err)
	})

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		fmt.Printf("failed to connect to MQTT broker: %v\n", token.Error())
		os.Exit(1)
	}
	fmt.Printf("connected to MQTT broker: %s\n", *broker)

	switch *mode {
	case "single":
		publishReading(client, *device, time.Now().Unix())
		client.Disconnect(250)
	case "continuous":
		publishContinuous(client, *device, *interval)
	default:
		fmt.Println("unknown run mode, use single or continuous")
		os.Exit(1)
	}
}

// publishReading publishes all six variants for one reading instant.
func publishReading(client paho.Client, device string, ts int64) {
	readings := map[string]map[string]interface{}{
		"location": {
			"latitude":  41.3 + rand.Float64()*0.01,
			"longitude": 2.1 + rand.Float64()*0.01,
			"altitude":  120.0 + rand.Float64()*2,
			"status":    1,
			"service":   1,
		},
		"thermal": {
			"canopy_temperature":  22.0 + rand.Float64()*6,
			"cwsi":                rand.Float64(),
			"ambient_temperature": 20.0 + rand.Float64()*8,
			"entity_count":        1 + rand.Intn(30),
		},
		"spectral": {
			"ndvi":    rand.Float64(),
			"ndvi_3d": rand.Float64(),
			"ir":      rand.Float64() * 255,
			"visible": rand.Float64() * 255,
		},
		"environmental": {
			"relative_humidity": 40.0 + rand.Float64()*30,
			"absolute_humidity": 8.0 + rand.Float64()*4,
			"dew_point":         10.0 + rand.Float64()*5,
		},
		"transform": {
			"x": rand.Float64() * 100,
			"y": rand.Float64() * 100,
			"z": rand.Float64() * 2,
		},
		"plant": {
			"biomass":     100.0 + rand.Float64()*50,
			"area":        1.5 + rand.Float64(),
			"crop_type":   "tomato",
			"light_state": "day",
		},
	}

	for kind, fields := range readings {
		fields["device_id"] = device
		fields["timestamp"] = ts

		payload, err := json.Marshal(fields)
		if err != nil {
			fmt.Printf("failed to encode %s payload: %v\n", kind, err)
			continue
		}

		topic := fmt.Sprintf("telemetry/%s/%s", device, kind)
		token := client.Publish(topic, 1, false, payload)
		token.Wait()
		if token.Error() != nil {
			fmt.Printf("failed to publish to %s: %v\n", topic, token.Error())
		} else {
			fmt.Printf("published %s reading for %s at %d\n", kind, device, ts)
		}
	}
}

// publishContinuous publishes a full reading per interval until interrupted.
func publishContinuous(client paho.Client, device string, interval time.Duration) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sigChan:
			fmt.Println("stopping publisher")
			client.Disconnect(250)
			return
		case t := <-ticker.C:
			publishReading(client, device, t.Unix())
		}
	}
}
