package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"path/filepath"
	"syscall"

	"linknet/chat"
	"linknet/config"
	"linknet/discovery"
	"linknet/filetransfer"
	"linknet/models"
	"linknet/network"
	"linknet/storage"
)

func main() {
	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		log.Fatalf("startup failed while loading config: %v", err)
	}

	port := flag.Int("port", cfg.ListeningPort, "TCP listening port")
	name := flag.String("name", cfg.DeviceName, "display name shown to peers")
	downloads := flag.String("downloads", cfg.DownloadsDir, "directory for received files")
	autoConnect := flag.Bool("auto-connect", cfg.AutoConnect, "connect to discovered peers automatically")
	noAutoConnect := flag.Bool("no-auto-connect", false, "disable automatic connects")
	useMDNS := flag.Bool("mdns", cfg.UseMDNS, "use mDNS discovery instead of UDP multicast")
	flag.Parse()
	if *noAutoConnect {
		*autoConnect = false
	}

	localID, err := models.NewPeerID()
	if err != nil {
		log.Fatalf("startup failed while generating node ID: %v", err)
	}

	dataDir := filepath.Dir(cfgPath)
	journal, dbPath, err := storage.Open(dataDir)
	if err != nil {
		log.Printf("transfer journal disabled: %v", err)
		journal = nil
	} else {
		defer func() {
			if err := journal.Close(); err != nil {
				log.Printf("journal close error: %v", err)
			}
		}()
	}

	manager, err := network.NewManager(network.ManagerOptions{LocalID: localID})
	if err != nil {
		log.Fatalf("startup failed while creating network manager: %v", err)
	}

	engine, err := filetransfer.NewEngine(filetransfer.Options{
		LocalID:      localID,
		Network:      manager,
		DownloadsDir: *downloads,
		Journal:      journal,
	})
	if err != nil {
		log.Fatalf("startup failed while creating transfer engine: %v", err)
	}

	dispatcher, err := chat.NewDispatcher(chat.Options{
		Network:   manager,
		LocalID:   localID,
		LocalName: *name,
	})
	if err != nil {
		log.Fatalf("startup failed while creating chat dispatcher: %v", err)
	}

	// Inbound messages flow manager -> chat -> file transfer.
	dispatcher.SetNextHandler(engine)
	manager.SetHandler(dispatcher)

	dispatcher.SetChatCallback(func(entry models.ChatInfo) {
		log.Printf("chat: [%s] %s: %s", entry.Timestamp.Format("15:04:05"), entry.SenderID.Short(), entry.Content)
	})
	engine.SetRequestCallback(func(peer models.PeerID, filename string, size uint64) bool {
		log.Printf("file: accepting %q (%d bytes) from %s", filename, size, peer.Short())
		return true
	})
	engine.SetCompletedCallback(func(peer models.PeerID, path string, ok bool, errText string) {
		if ok {
			log.Printf("file: transfer of %q with %s complete", path, peer.Short())
		} else {
			log.Printf("file: transfer of %q with %s failed: %s", path, peer.Short(), errText)
		}
	})
	manager.SetConnectionCallback(func(peer models.PeerID, status models.ConnectionStatus) {
		log.Printf("network: peer %s is %s", peer.Short(), status)
		if status == models.StatusDisconnected {
			engine.HandlePeerDisconnected(peer)
		}
	})
	manager.SetErrorCallback(func(text string) {
		log.Printf("network: %s", text)
	})

	if err := manager.Start(*port); err != nil {
		log.Fatalf("failed to bind TCP listener: %v", err)
	}
	defer manager.Stop()
	defer engine.Stop()

	fmt.Printf("Node ID:         %s\n", localID.Short())
	fmt.Printf("Display Name:    %s\n", *name)
	fmt.Printf("Listening Port:  %d\n", manager.Port())
	fmt.Printf("Downloads:       %s\n", *downloads)
	fmt.Printf("Config File:     %s\n", cfgPath)
	if journal != nil {
		fmt.Printf("Journal:         %s\n", dbPath)
	}

	onDiscovered := func(ip string, peerPort int) {
		log.Printf("discovery: peer at %s:%d", ip, peerPort)
		if *autoConnect {
			go func() {
				if _, err := manager.Connect(ip, peerPort); err != nil {
					log.Printf("discovery: auto-connect %s:%d failed: %v", ip, peerPort, err)
				}
			}()
		}
	}

	var stopDiscovery func()
	if *useMDNS {
		mdns, err := discovery.NewMDNS(discovery.MDNSConfig{
			InstanceName: *name,
			Port:         manager.Port(),
		})
		if err == nil {
			mdns.SetDiscoveredCallback(onDiscovered)
			err = mdns.Start()
		}
		if err != nil {
			log.Printf("discovery disabled: %v", err)
		} else {
			stopDiscovery = mdns.Stop
			fmt.Println("Discovery:       mDNS")
		}
	} else {
		multicast, err := discovery.NewMulticast(discovery.Config{Port: manager.Port()})
		if err == nil {
			multicast.SetDiscoveredCallback(onDiscovered)
			err = multicast.Start()
		}
		if err != nil {
			log.Printf("discovery disabled: %v", err)
		} else {
			stopDiscovery = multicast.Stop
			fmt.Println("Discovery:       multicast")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("Status:          running (press Ctrl+C to stop)")
	<-ctx.Done()
	fmt.Println("Status:          shutting down")

	// Shutdown order: discovery, then network, then transfers.
	if stopDiscovery != nil {
		stopDiscovery()
	}
	manager.Stop()
	engine.Stop()
}
