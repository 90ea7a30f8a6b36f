package config

// configSchema is unified with every CUE configuration file. Fields with a
// default become concrete when the file omits them.
const configSchema = `
#Config: {
	target: {
		executable:      string & !=""
		args?:           [...string]
		work_dir?:       string
		process_name:    string & !=""
		crash_reporter:  string | *"CrashReportClient.exe"
	}

	order_file: string & !=""

	plugins: {
		required: [...(string & !="")] | *[
			"Oblivion.esm",
			"DLCBattlehornCastle.esp",
			"DLCFrostcrag.esp",
			"DLCHorseArmor.esp",
			"DLCMehrunesRazor.esp",
			"DLCOrrery.esp",
			"DLCShiveringIsles.esp",
			"DLCSpellTomes.esp",
			"DLCThievesDen.esp",
			"DLCVileLair.esp",
			"Knights.esp",
			"AltarESPMain.esp",
			"AltarDeluxe.esp",
		]
		optional: [...(string & !="")] | *[
			"Unofficial Oblivion Remastered Patch.esp",
			"Unofficial Oblivion Remastered Patch - Deluxe.esp",
		]
		patch_keywords: [...(string & !="")] | *["patch", "fix", "compat", "merge"]
		selector?:      string
	}

	timing: {
		wait_seconds:      number & >0 | *11
		after_close_delay: number & >=0 | *3
		startup_grace:     number & >0 | *3
		fast_mode:         bool | *false
	}

	isolation: {
		batch_size:  int & >=1 | *10
		turbo_batch: bool | *true
		marker:      =~"^[A-Z0-9]+$" | *"PLUGSIFT"
	}

	display: {
		truncate_length: int & >=4 | *25
		show_order:      bool | *false
	}

	paths: {
		home: string | *"."
	}

	telemetry: {
		log_level:      *"info" | "trace" | "debug" | "warn" | "error"
		log_format:     *"console" | "json"
		log_file?:      string
		metrics_addr?:  string
		tracing:        *"none" | "stdout" | "otlp"
		otlp_endpoint?: string
	}
}
`
