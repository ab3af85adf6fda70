package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"invarsynth/pkg/synthesis"
	"invarsynth/pkg/types"
)

func main() {
	// 命令行参数
	var (
		inputPath  = flag.String("input", "", "取证记录JSON路径 (单条记录或记录数组)")
		configPath = flag.String("config", "", "可选: 合成配置YAML路径")
		outputPath = flag.String("output", "", "可选: 输出路径，留空写到stdout")
	)
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	if *inputPath == "" {
		log.Fatalf("missing required -input flag")
	}

	cfg := synthesis.DefaultConfig()
	if *configPath != "" {
		loaded, err := synthesis.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	records, err := loadRecords(*inputPath)
	if err != nil {
		log.Fatalf("Failed to load forensic records: %v", err)
	}
	log.Printf("Loaded %d forensic record(s) from %s", len(records), *inputPath)

	engine := synthesis.NewEngine(cfg)
	results := engine.RunAll(records)

	output, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		log.Fatalf("Failed to marshal results: %v", err)
	}

	if *outputPath == "" {
		os.Stdout.Write(output)
		os.Stdout.Write([]byte("\n"))
		return
	}
	if err := os.WriteFile(*outputPath, output, 0644); err != nil {
		log.Fatalf("Failed to write output: %v", err)
	}
	log.Printf("Wrote %d result(s) to %s", len(results), *outputPath)
}

// loadRecords 读取单条记录或记录数组
func loadRecords(path string) ([]*types.ForensicRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var records []*types.ForensicRecord
	if err := json.Unmarshal(data, &records); err == nil {
		return records, nil
	}

	var single types.ForensicRecord
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, err
	}
	return []*types.ForensicRecord{&single}, nil
}
